package signaling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/st-user/ojm-dronw-remote/internal/metrics"
	"github.com/st-user/ojm-dronw-remote/internal/registry"
)

var (
	ErrUnknownRoom   = errors.New("unknown room")
	ErrInvalidTicket = errors.New("invalid ticket")
)

// TicketIssuer creates one-time tickets bound to a room key. A ticket is
// destroyed on consumption or on TTL expiry, whichever comes first.
type TicketIssuer struct {
	reg     registry.Registry
	log     *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
}

func NewTicketIssuer(reg registry.Registry, logger *slog.Logger, m *metrics.Metrics, ttl time.Duration) *TicketIssuer {
	if m == nil {
		m = metrics.New()
	}
	return &TicketIssuer{
		reg:     reg,
		log:     logger,
		metrics: m,
		ttl:     ttl,
	}
}

// Issue creates a ticket for the room. ErrUnknownRoom when the start key
// does not reference an existing room.
func (t *TicketIssuer) Issue(ctx context.Context, startKey string) (string, error) {
	ok, err := t.reg.HasRoom(ctx, startKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnknownRoom
	}

	ticket := uuid.NewString()
	if err := t.reg.SetTicketForRoom(ctx, ticket, startKey); err != nil {
		return "", err
	}
	t.metrics.Inc(metrics.TicketIssued)

	time.AfterFunc(t.ttl, func() {
		// The delete is a no-op if the ticket was already consumed; the
		// registry tolerates absent keys so this never races badly against a
		// legitimate connect.
		if err := t.reg.DeleteTicket(context.Background(), ticket); err != nil {
			t.log.Warn("ticket expiry sweep failed", "err", err)
			return
		}
		t.metrics.Inc(metrics.TicketExpired)
		t.log.Warn("a ticket for startKey has expired", "ticket", truncateKey(ticket, 3))
	})

	return ticket, nil
}

// ResolveAndConsume resolves a ticket to its room key and deletes the
// binding as part of resolution. The delete happens even when the lookup
// misses, so repeated use of a guessed or stale ticket stays a no-op.
func (t *TicketIssuer) ResolveAndConsume(ctx context.Context, ticket string) (string, error) {
	if ticket == "" {
		return "", ErrInvalidTicket
	}

	startKey, ok, err := t.reg.RoomIDFromTicket(ctx, ticket)
	if delErr := t.reg.DeleteTicket(ctx, ticket); delErr != nil && err == nil {
		err = delErr
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidTicket
	}
	return startKey, nil
}

// truncateKey shortens opaque identifiers for logging so secrets never land
// in logs whole.
func truncateKey(key string, n int) string {
	if len(key) <= n {
		return key + "..."
	}
	return key[:n] + "..."
}
