package registry

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is the single-process Registry implementation. All maps are guarded
// by one mutex; every operation is a short critical section, so per-key
// serialization falls out for free.
type Memory struct {
	mu sync.Mutex

	rooms     map[string]struct{}
	tickets   map[string]string // ticket -> startKey
	sessions  map[string]string // sessionKey -> startKey
	mailboxes map[string][]json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{
		rooms:     make(map[string]struct{}),
		tickets:   make(map[string]string),
		sessions:  make(map[string]string),
		mailboxes: make(map[string][]json.RawMessage),
	}
}

func (m *Memory) SetRoom(_ context.Context, startKey string) error {
	m.mu.Lock()
	m.rooms[startKey] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) HasRoom(_ context.Context, startKey string) (bool, error) {
	m.mu.Lock()
	_, ok := m.rooms[startKey]
	m.mu.Unlock()
	return ok, nil
}

func (m *Memory) SetTicketForRoom(_ context.Context, ticket, startKey string) error {
	m.mu.Lock()
	m.tickets[ticket] = startKey
	m.mu.Unlock()
	return nil
}

func (m *Memory) RoomIDFromTicket(_ context.Context, ticket string) (string, bool, error) {
	m.mu.Lock()
	startKey, ok := m.tickets[ticket]
	m.mu.Unlock()
	return startKey, ok, nil
}

func (m *Memory) DeleteTicket(_ context.Context, ticket string) error {
	m.mu.Lock()
	delete(m.tickets, ticket)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetSessionKey(_ context.Context, sessionKey, startKey string) error {
	m.mu.Lock()
	m.sessions[sessionKey] = startKey
	m.mu.Unlock()
	return nil
}

func (m *Memory) EnqueueMessage(_ context.Context, startKey string, payload json.RawMessage) error {
	m.mu.Lock()
	m.mailboxes[startKey] = append(m.mailboxes[startKey], payload)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DrainMessages(_ context.Context, sessionKey string) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	startKey, ok := m.sessions[sessionKey]
	if !ok {
		return nil, nil
	}
	pending := m.mailboxes[startKey]
	delete(m.mailboxes, startKey)
	return pending, nil
}
