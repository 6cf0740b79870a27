package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/st-user/ojm-dronw-remote/internal/metrics"
)

// keepaliveTarget is the slice of a connection the supervisor needs: send a
// ping, report liveness, and force the transport closed.
type keepaliveTarget interface {
	sendPing() error
	isOpen() bool
	closeTransport() error
}

// keepalive supervises one local connection with two independently armed
// timers: a self-perpetuating ping-interval timer and a pong-deadline timer.
// Liveness is peer-driven: only an inbound pong (consumePong) rearms the
// deadline, so a slow-but-responsive peer is never penalized by jitter in
// ping scheduling. One full timeout of silence forces the connection closed.
//
// Timer callbacks re-check state under the mutex because cancellation and
// firing can race; once stopped is set, a late fire is a no-op.
type keepalive struct {
	target  keepaliveTarget
	log     *slog.Logger
	metrics *metrics.Metrics

	interval time.Duration
	timeout  time.Duration

	mu            sync.Mutex
	pingTimer     *time.Timer
	deadlineTimer *time.Timer
	stopped       bool
}

func newKeepalive(target keepaliveTarget, logger *slog.Logger, m *metrics.Metrics, interval, timeout time.Duration) *keepalive {
	if m == nil {
		m = metrics.New()
	}
	return &keepalive{
		target:   target,
		log:      logger,
		metrics:  m,
		interval: interval,
		timeout:  timeout,
	}
}

// start arms the ping-interval timer. Re-entrant: any existing ping timer is
// cleared first, so at most one ping cycle is live per connection. The pong
// deadline is armed once here so a peer that never answers at all is still
// closed after one timeout; afterwards only pongs rearm it.
func (k *keepalive) start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return
	}
	if k.pingTimer != nil {
		k.pingTimer.Stop()
	}
	k.pingTimer = time.AfterFunc(k.interval, k.pingFire)
	if k.deadlineTimer == nil {
		k.deadlineTimer = time.AfterFunc(k.timeout, k.deadlineFire)
	}
}

func (k *keepalive) pingFire() {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()

	if k.target.isOpen() {
		if err := k.target.sendPing(); err != nil {
			k.log.Debug("keepalive ping send failed", "err", err)
		}
	}
	k.start()
}

// consumePong clears and rearms the pong-deadline timer. This is the sole
// mechanism that keeps a connection alive.
func (k *keepalive) consumePong() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return
	}
	if k.deadlineTimer != nil {
		k.deadlineTimer.Stop()
	}
	k.deadlineTimer = time.AfterFunc(k.timeout, k.deadlineFire)
}

func (k *keepalive) deadlineFire() {
	k.stop()
}

// stop clears both timers and force-closes the transport. Close is
// best-effort: an error is logged and swallowed, the connection is
// considered closed either way.
func (k *keepalive) stop() {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}
	k.clearLocked()
	k.mu.Unlock()

	if !k.target.isOpen() {
		return
	}
	k.metrics.Inc(metrics.ForcedClose)
	if err := k.target.closeTransport(); err != nil {
		k.log.Error("keepalive forced close failed", "err", err)
	}
}

// clear cancels both timers without touching the transport. Called on the
// connection-close event; idempotent with stop's timer clearing so the two
// paths never double-close.
func (k *keepalive) clear() {
	k.mu.Lock()
	k.clearLocked()
	k.mu.Unlock()
}

func (k *keepalive) clearLocked() {
	if k.pingTimer != nil {
		k.pingTimer.Stop()
		k.pingTimer = nil
	}
	if k.deadlineTimer != nil {
		k.deadlineTimer.Stop()
		k.deadlineTimer = nil
	}
	k.stopped = true
}
