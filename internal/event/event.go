// Package event provides explicit subscription handles for change
// notifications. Every OnChange-style registration in the daemon returns a
// Subscription that the owner releases deterministically on teardown.
package event

import "sync"

// Subscription is a handle to a registered callback.
type Subscription interface {
	// Close unregisters the callback. Closing twice is a no-op.
	Close()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Close() {
	if f != nil {
		f()
	}
}

// Nop is a Subscription that does nothing.
var Nop Subscription = SubscriptionFunc(nil)

// Hub fans a notification out to registered callbacks. Callbacks run
// synchronously on the notifying goroutine, in registration order.
type Hub[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(T)
	order  []uint64
}

// NewHub returns an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns its handle.
func (h *Hub[T]) Subscribe(fn func(T)) Subscription {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() { h.remove(id) })
	})
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[id]; !ok {
		return
	}
	delete(h.subs, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Publish calls every registered callback with v.
func (h *Hub[T]) Publish(v T) {
	if h == nil {
		return
	}

	h.mu.RLock()
	fns := make([]func(T), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.subs[id])
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered callbacks.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Group collects subscriptions so they can be released together.
type Group struct {
	mu   sync.Mutex
	subs []Subscription
}

// Add appends subs to the group.
func (g *Group) Add(subs ...Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, subs...)
	g.mu.Unlock()
}

// Close releases every subscription in reverse order of addition.
func (g *Group) Close() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i] != nil {
			subs[i].Close()
		}
	}
}
