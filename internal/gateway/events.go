package gateway

import "sync"

// LoadingChanged сообщает текущее число незавершённых запросов.
type LoadingChanged struct {
	Pending int
}

// Hub рассылает события шлюза подписчикам.
// Обработчики вызываются синхронно и не должны обращаться к шлюзу.
type Hub struct {
	mu          sync.Mutex
	nextID      int
	loading     map[int]func(LoadingChanged)
	invalidated map[int]func()
}

// NewHub создаёт пустой набор подписок.
func NewHub() *Hub {
	return &Hub{
		loading:     make(map[int]func(LoadingChanged)),
		invalidated: make(map[int]func()),
	}
}

// OnLoading подписывает fn на изменение числа запросов и возвращает функцию отписки.
func (h *Hub) OnLoading(fn func(LoadingChanged)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.loading[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.loading, id)
	}
}

// OnSessionInvalidated подписывает fn на сброс сессии по 401 и возвращает функцию отписки.
func (h *Hub) OnSessionInvalidated(fn func()) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.invalidated[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.invalidated, id)
	}
}

func (h *Hub) emitLoading(ev LoadingChanged) {
	for _, fn := range h.loadingHandlers() {
		fn(ev)
	}
}

func (h *Hub) emitInvalidated() {
	h.mu.Lock()
	handlers := make([]func(), 0, len(h.invalidated))
	for _, fn := range h.invalidated {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (h *Hub) loadingHandlers() []func(LoadingChanged) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handlers := make([]func(LoadingChanged), 0, len(h.loading))
	for _, fn := range h.loading {
		handlers = append(handlers, fn)
	}
	return handlers
}
