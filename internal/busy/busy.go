// Package busy показывает глобальный индикатор занятости, пока у шлюза
// есть незавершённые запросы.
package busy

import (
	"fmt"
	"io"
	"sync"

	"github.com/mmeshcher/kpabk-connect/internal/gateway"
)

const overlayText = "⏳ working…"

// Indicator отслеживает последнее значение счётчика запросов шлюза.
// Перекрывающиеся запросы дают один индикатор, а не по одному на запрос.
type Indicator struct {
	mu          sync.Mutex
	pending     int
	shown       bool
	out         io.Writer
	unsubscribe func()
}

// New подписывает индикатор на события hub. out может быть nil,
// тогда индикатор только хранит состояние.
func New(hub *gateway.Hub, out io.Writer) *Indicator {
	ind := &Indicator{out: out}
	ind.unsubscribe = hub.OnLoading(ind.handle)
	return ind
}

// Pending возвращает последнее полученное число запросов.
func (i *Indicator) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending
}

// Open сообщает, показан ли индикатор.
func (i *Indicator) Open() bool {
	return i.Pending() > 0
}

// Close отписывает индикатор и убирает его с экрана.
func (i *Indicator) Close() {
	i.unsubscribe()

	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending = 0
	i.render()
}

func (i *Indicator) handle(ev gateway.LoadingChanged) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending = ev.Pending
	i.render()
}

// render вызывается под i.mu.
func (i *Indicator) render() {
	open := i.pending > 0
	if open == i.shown {
		return
	}
	i.shown = open
	if i.out == nil {
		return
	}
	if open {
		fmt.Fprint(i.out, "\r"+overlayText)
		return
	}
	fmt.Fprint(i.out, "\r\033[K")
}
