package metrics

import "sync"

// Event names. These cover the failure taxonomy of the admission and routing
// paths plus a few lifecycle counters useful when watching a deployment.
const (
	AuthFailure      = "unauthorized"
	CapacityExceeded = "capacity_exceeded"
	RoutingMiss      = "routing_miss"
	TicketIssued     = "ticket_issued"
	TicketExpired    = "ticket_expired"
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"
	ForcedClose      = "forced_close"
	RateLimited      = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
