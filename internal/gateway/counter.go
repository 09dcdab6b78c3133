package gateway

import "sync"

// Counter считает незавершённые запросы и уведомляет Hub о каждом изменении.
// Значение никогда не опускается ниже нуля.
type Counter struct {
	mu      sync.Mutex
	pending int
	hub     *Hub
}

// NewCounter создаёт счётчик, публикующий изменения в hub.
func NewCounter(hub *Hub) *Counter {
	return &Counter{hub: hub}
}

// Inc увеличивает счётчик и возвращает новое значение.
func (c *Counter) Inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending++
	c.notify()
	return c.pending
}

// Dec уменьшает счётчик и возвращает новое значение.
func (c *Counter) Dec() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = max(0, c.pending-1)
	c.notify()
	return c.pending
}

// Pending возвращает текущее значение счётчика.
func (c *Counter) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// notify вызывается под c.mu, поэтому подписчики видят значения строго по порядку.
func (c *Counter) notify() {
	if c.hub != nil {
		c.hub.emitLoading(LoadingChanged{Pending: c.pending})
	}
}
