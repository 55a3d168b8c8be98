// Package event implements a small generic publish/subscribe mechanism used
// by the server, session, and client types to expose their named event
// surfaces without resorting to inheritance or a single fat callback
// struct. Each event has its own payload type and its own Bus.
package event

import "sync"

// A Bus distributes values of type T to a set of subscriber functions. The
// zero value is a usable, empty bus. A Bus is safe for concurrent use.
type Bus[T any] struct {
	mu   sync.Mutex
	subs map[int]func(T)
	next int
}

// Subscription identifies a callback registered with a Bus, so it can later
// be removed with Off.
type Subscription int

// On registers fn to be called for every subsequent Emit. It returns a
// Subscription that can be passed to Off to remove the callback.
func (b *Bus[T]) On(fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(T))
	}
	id := b.next
	b.next++
	b.subs[id] = fn
	return Subscription(id)
}

// Off removes the callback identified by sub, if it is still registered.
func (b *Bus[T]) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, int(sub))
}

// Emit calls every subscribed callback with v, in unspecified order. Emit
// takes a snapshot of the subscriber set before calling out, so a callback
// that subscribes or unsubscribes during Emit does not race with the
// delivery of the current value.
func (b *Bus[T]) Emit(v T) {
	b.mu.Lock()
	fns := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of callbacks currently registered.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
