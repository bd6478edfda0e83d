package eventbus

import (
	"sync"
	"testing"
)

func TestSubscribeReceivesTaggedEvent(t *testing.T) {
	bus := New()
	var got OrchEvent
	bus.Subscribe(TagTicketStatusChange, func(ev OrchEvent) { got = ev })

	bus.Publish(NewTicketStatusChanged("T1", "Todo", "InProgress", "assigned", "agent"))

	tsc, ok := got.(TicketStatusChanged)
	if !ok {
		t.Fatalf("expected TicketStatusChanged, got %T", got)
	}
	if tsc.TicketID != "T1" || tsc.To != "InProgress" {
		t.Errorf("unexpected event contents: %+v", tsc)
	}
}

func TestSubscribeIgnoresOtherTags(t *testing.T) {
	bus := New()
	called := false
	bus.Subscribe(TagAgentFailed, func(ev OrchEvent) { called = true })

	bus.Publish(NewTicketStatusChanged("T1", "Todo", "InProgress", "assigned", "agent"))

	if called {
		t.Error("handler for AgentFailed should not fire for a TicketStatusChanged event")
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := New()
	var mu sync.Mutex
	var tags []Tag
	bus.SubscribeAll(func(ev OrchEvent) {
		mu.Lock()
		tags = append(tags, ev.Tag())
		mu.Unlock()
	})

	bus.Publish(NewTicketStatusChanged("T1", "Todo", "InProgress", "assigned", "agent"))
	bus.Publish(NewAgentFailed(1, "T1", 1, "boom"))

	mu.Lock()
	defer mu.Unlock()
	if len(tags) != 2 {
		t.Fatalf("expected 2 events delivered to the all-subscriber, got %d", len(tags))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	count := 0
	unsub := bus.Subscribe(TagTicketStatusChange, func(ev OrchEvent) { count++ })

	bus.Publish(NewTicketStatusChanged("T1", "Todo", "InProgress", "x", "y"))
	unsub()
	bus.Publish(NewTicketStatusChanged("T1", "InProgress", "Review", "x", "y"))

	if count != 1 {
		t.Errorf("expected 1 delivery before unsubscribe, got %d", count)
	}
}

func TestUnsubscribeTwiceIsNoop(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(TagTicketStatusChange, func(ev OrchEvent) {})
	unsub()
	unsub() // must not panic or remove another subscriber's slot
}

func TestPublishRecoversFromPanickingHandler(t *testing.T) {
	bus := New()
	secondCalled := false
	bus.Subscribe(TagTicketStatusChange, func(ev OrchEvent) { panic("boom") })
	bus.Subscribe(TagTicketStatusChange, func(ev OrchEvent) { secondCalled = true })

	bus.Publish(NewTicketStatusChanged("T1", "Todo", "InProgress", "x", "y"))

	if !secondCalled {
		t.Error("a panicking handler must not prevent later subscribers from running")
	}
}

func TestClearRemovesAllSubscriptions(t *testing.T) {
	bus := New()
	called := false
	bus.Subscribe(TagTicketStatusChange, func(ev OrchEvent) { called = true })
	bus.SubscribeAll(func(ev OrchEvent) { called = true })

	bus.Clear()
	bus.Publish(NewTicketStatusChanged("T1", "Todo", "InProgress", "x", "y"))

	if called {
		t.Error("Clear should remove every subscription")
	}
}

func TestEventsCarryDistinctCorrelationIDs(t *testing.T) {
	a := NewTicketStatusChanged("T1", "Todo", "InProgress", "x", "y")
	b := NewTicketStatusChanged("T1", "Todo", "InProgress", "x", "y")
	if a.CorrelationID() == b.CorrelationID() {
		t.Error("each event construction should mint its own correlation id")
	}
}
