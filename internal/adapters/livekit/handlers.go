package livekit

import (
	"sync"

	"github.com/dkeye/voicebridge/internal/core"
)

// handlers is a set of registered callbacks with cancelable handles.
type handlers[T any] struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]func(T)
}

func newHandlers[T any]() *handlers[T] {
	return &handlers[T]{fns: make(map[int]func(T))}
}

func (h *handlers[T]) add(fn func(T)) core.Subscription {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.fns[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return core.SubscriptionFunc(func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.fns, id)
			h.mu.Unlock()
		})
	})
}

func (h *handlers[T]) emit(v T) {
	h.mu.RLock()
	fns := make([]func(T), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (h *handlers[T]) clear() {
	h.mu.Lock()
	clear(h.fns)
	h.mu.Unlock()
}

func (h *handlers[T]) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.fns)
}
