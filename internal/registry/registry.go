// Package registry defines the persistence boundary of the rendezvous
// server: room/ticket/session bookkeeping and the per-room message mailbox.
//
// The signaling core only talks to the Registry interface so the in-memory
// implementation can be swapped for a distributed store without touching
// connection handling. Mailbox enqueue and drain are deliberately decoupled
// (enqueue by room, drain by session key) because the producer of a message
// and the holder of the live socket may run in different execution contexts;
// the Bus carries the "new message" notifications between them.
package registry

import (
	"context"
	"encoding/json"
)

type Registry interface {
	// SetRoom registers a room. Registering an existing room is a no-op.
	SetRoom(ctx context.Context, startKey string) error

	// HasRoom reports whether the room exists.
	HasRoom(ctx context.Context, startKey string) (bool, error)

	// SetTicketForRoom binds a one-time ticket to a room.
	SetTicketForRoom(ctx context.Context, ticket, startKey string) error

	// RoomIDFromTicket resolves a ticket to its room key. ok is false when
	// the ticket is unknown (expired, consumed, or never issued).
	RoomIDFromTicket(ctx context.Context, ticket string) (startKey string, ok bool, err error)

	// DeleteTicket removes a ticket binding. Deleting an absent ticket is a
	// normal outcome, not an error; consumption and the TTL sweep may race.
	DeleteTicket(ctx context.Context, ticket string) error

	// SetSessionKey binds a connection's session key to its room so the
	// mailbox can be drained by session key.
	SetSessionKey(ctx context.Context, sessionKey, startKey string) error

	// EnqueueMessage appends a payload to the room's mailbox.
	EnqueueMessage(ctx context.Context, startKey string, payload json.RawMessage) error

	// DrainMessages removes and returns all pending payloads for the room
	// bound to sessionKey, in enqueue order.
	DrainMessages(ctx context.Context, sessionKey string) ([]json.RawMessage, error)
}
