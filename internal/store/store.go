// Package store содержит доменные слайсы клиента: состояние домена и операции,
// которые его меняют. Каждая операция проходит этапы Pending, Fulfilled и
// Rejected, а состояние меняет единственный редьюсер домена.
package store

import (
	"sync"

	"github.com/mmeshcher/kpabk-connect/internal/gateway"
)

// Phase описывает этап асинхронной операции.
type Phase int

const (
	Pending Phase = iota
	Fulfilled
	Rejected
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// OpError описывает неуспешную операцию слайса.
type OpError struct {
	Op      string
	Message string
	Err     error
}

func (e *OpError) Error() string {
	return e.Message
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// reject строит OpError: сообщение сервера, затем текст ошибки, затем fallback.
func reject(op string, err error, fallback string) *OpError {
	return &OpError{Op: op, Message: gateway.Message(err, fallback), Err: err}
}

type subscribers[S any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(S)
}

func (s *subscribers[S]) add(fn func(S)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(S))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers[S]) notify(state S) {
	s.mu.Lock()
	fns := make([]func(S), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// slice хранит состояние домена и применяет к нему редьюсер.
type slice[S, A any] struct {
	mu     sync.Mutex
	state  S
	reduce func(S, A) S
	clone  func(S) S
	subs   subscribers[S]
}

func (s *slice[S, A]) dispatch(a A) S {
	s.mu.Lock()
	s.state = s.reduce(s.state, a)
	st := s.clone(s.state)
	s.mu.Unlock()

	s.subs.notify(st)
	return st
}

// dispatchIf применяет действие, только если allow разрешает его для текущего
// состояния. Проверка и изменение выполняются под одной блокировкой.
func (s *slice[S, A]) dispatchIf(a A, allow func(S) bool) (S, bool) {
	s.mu.Lock()
	if !allow(s.state) {
		st := s.clone(s.state)
		s.mu.Unlock()
		return st, false
	}
	s.state = s.reduce(s.state, a)
	st := s.clone(s.state)
	s.mu.Unlock()

	s.subs.notify(st)
	return st, true
}

func (s *slice[S, A]) snapshot() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone(s.state)
}
