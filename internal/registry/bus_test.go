package registry

import (
	"testing"
	"time"
)

func TestBus_TriggerReachesAllHandlers(t *testing.T) {
	b := NewBus()

	got := make(chan string, 2)
	b.On(EventMessage, func(evt Event) { got <- "a:" + evt.RoomID })
	b.On(EventMessage, func(evt Event) { got <- "b:" + evt.RoomID })

	b.Trigger(Event{Name: EventMessage, RoomID: "k1"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			seen[v] = true
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for handler %d", i)
		}
	}
	if !seen["a:k1"] || !seen["b:k1"] {
		t.Fatalf("handlers saw %v", seen)
	}
}

func TestBus_TriggerWithoutHandlersIsNoOp(t *testing.T) {
	b := NewBus()
	b.Trigger(Event{Name: EventRemote, RoomID: "k1"})
}

func TestBus_HandlersAreScopedByEventName(t *testing.T) {
	b := NewBus()

	got := make(chan Event, 1)
	b.On(EventRemote, func(evt Event) { got <- evt })

	b.Trigger(Event{Name: EventMessage, RoomID: "k1"})
	select {
	case evt := <-got:
		t.Fatalf("handler for %q received %q", EventRemote, evt.Name)
	case <-time.After(50 * time.Millisecond):
	}

	b.Trigger(Event{Name: EventRemote, RoomID: "k2"})
	select {
	case evt := <-got:
		if evt.RoomID != "k2" {
			t.Fatalf("RoomID = %q, want k2", evt.RoomID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for remote event")
	}
}
