package identity

import (
	"slices"
	"sync"
)

// Notifier tracks the current identity of a provider and fans transitions out
// to subscribers. Deliveries happen on the goroutine that calls Set, one at a
// time and in call order.
//
// Callbacks must not call Subscribe or Set on the same Notifier.
type Notifier struct {
	deliver sync.Mutex // Serializes deliveries and guards current.
	current *Identity

	mu        sync.Mutex // Guards listeners.
	nextID    int
	listeners map[int]func(*Identity)
}

// Current returns a copy of the current identity, or nil.
func (n *Notifier) Current() *Identity {
	n.deliver.Lock()
	defer n.deliver.Unlock()
	return clone(n.current)
}

// Set records id as the current identity and notifies every subscriber.
func (n *Notifier) Set(id *Identity) {
	n.deliver.Lock()
	defer n.deliver.Unlock()
	n.current = clone(id)
	for _, fn := range n.snapshot() {
		fn(clone(n.current))
	}
}

// Replace swaps the current identity without notifying subscribers. It is
// used for attribute changes that don't start a new session, like a display
// name update.
func (n *Notifier) Replace(id *Identity) {
	n.deliver.Lock()
	defer n.deliver.Unlock()
	n.current = clone(id)
}

// Subscribe registers fn and immediately calls it with the current identity.
func (n *Notifier) Subscribe(fn func(*Identity)) func() {
	n.deliver.Lock()
	defer n.deliver.Unlock()

	n.mu.Lock()
	if n.listeners == nil {
		n.listeners = make(map[int]func(*Identity))
	}
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.mu.Unlock()

	fn(clone(n.current))

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.listeners, id)
		})
	}
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

func (n *Notifier) snapshot() []func(*Identity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]int, 0, len(n.listeners))
	for id := range n.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids) // Subscription order.
	fns := make([]func(*Identity), len(ids))
	for i, id := range ids {
		fns[i] = n.listeners[id]
	}
	return fns
}

func clone(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
