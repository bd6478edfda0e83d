package eventbus

import (
	"fmt"
	"sync"
)

// Handler processes one event. A handler must not block for long; anything
// asynchronous must be scheduled by the handler itself and return promptly.
type Handler func(OrchEvent)

// Unsubscribe removes a previously registered handler. Calling it more than
// once is a no-op.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is the process-local, synchronous event dispatcher. It is constructed
// once at startup (see cmd/orchd) and threaded through every component that
// needs to publish or subscribe — there is no package-level singleton.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	byTag     map[Tag][]subscription
	all       []subscription
	dispatching bool
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{byTag: make(map[Tag][]subscription)}
}

// Subscribe registers handler for events tagged with tag. The returned
// Unsubscribe removes the registration; calling it a second time is a no-op.
func (b *Bus) Subscribe(tag Tag, handler Handler) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.byTag[tag] = append(b.byTag[tag], subscription{id: id, handler: handler})
	b.mu.Unlock()

	removed := false
	return func() {
		if removed {
			return
		}
		removed = true
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.byTag[tag]
		for i, s := range subs {
			if s.id == id {
				b.byTag[tag] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// SubscribeAll registers handler for every event published on the bus,
// regardless of tag.
func (b *Bus) SubscribeAll(handler Handler) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.all = append(b.all, subscription{id: id, handler: handler})
	b.mu.Unlock()

	removed := false
	return func() {
		if removed {
			return
		}
		removed = true
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.all {
			if s.id == id {
				b.all = append(b.all[:i], b.all[i+1:]...)
				break
			}
		}
	}
}

// Clear removes every subscription. Intended for teardown and tests only.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byTag = make(map[Tag][]subscription)
	b.all = nil
}

// Publish delivers event synchronously to every tag-subscriber in
// registration order, then to every subscribe-all listener. A handler that
// panics is recovered and reported as a log:entry (unless the event being
// delivered is itself a LogEntry, to avoid recursive failure loops); later
// subscribers still receive the event.
func (b *Bus) Publish(event OrchEvent) {
	b.mu.Lock()
	tagSubs := append([]subscription(nil), b.byTag[event.Tag()]...)
	allSubs := append([]subscription(nil), b.all...)
	b.mu.Unlock()

	for _, s := range tagSubs {
		b.invoke(s.handler, event)
	}
	for _, s := range allSubs {
		b.invoke(s.handler, event)
	}
}

func (b *Bus) invoke(handler Handler, event OrchEvent) {
	defer func() {
		if r := recover(); r != nil {
			if _, isLog := event.(LogEntry); isLog {
				return
			}
			b.Publish(NewLogEntry(LevelError, fmt.Sprintf("event handler panicked: %v", r), map[string]any{
				"tag": string(event.Tag()),
			}))
		}
	}()
	handler(event)
}
