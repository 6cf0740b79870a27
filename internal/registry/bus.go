package registry

import (
	"encoding/json"
	"sync"
)

// Bus event names.
const (
	// EventMessage wakes mailbox drains: a payload was enqueued for a room.
	EventMessage = "message"
	// EventRemote carries a local endpoint's signaling message toward the
	// remote-side component.
	EventRemote = "remote"
)

// Event is a notification published on the Bus. RoomID addresses the room
// the event concerns; Detail carries event-specific data where needed.
type Event struct {
	Name   string          `json:"eventName"`
	RoomID string          `json:"roomId"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Bus is an in-process publish/subscribe notification channel. Handlers are
// registered once at startup; Trigger dispatches asynchronously so a
// publisher holding connection-level locks never deadlocks against a handler
// that takes them too.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]func(Event)
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]func(Event)),
	}
}

// On registers a handler for the named event. Not safe to call concurrently
// with Trigger delivery ordering expectations; register during startup.
func (b *Bus) On(name string, fn func(Event)) {
	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], fn)
	b.mu.Unlock()
}

// Trigger publishes an event to all handlers registered for its name.
func (b *Bus) Trigger(evt Event) {
	b.mu.RLock()
	handlers := b.handlers[evt.Name]
	b.mu.RUnlock()

	for _, fn := range handlers {
		go fn(evt)
	}
}
