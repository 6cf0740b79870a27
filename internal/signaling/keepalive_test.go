package signaling

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/st-user/ojm-dronw-remote/internal/metrics"
)

type fakeTarget struct {
	mu     sync.Mutex
	pings  int
	open   atomic.Bool
	closed chan struct{}
}

func newFakeTarget() *fakeTarget {
	f := &fakeTarget{closed: make(chan struct{})}
	f.open.Store(true)
	return f
}

func (f *fakeTarget) sendPing() error {
	f.mu.Lock()
	f.pings++
	f.mu.Unlock()
	return nil
}

func (f *fakeTarget) isOpen() bool { return f.open.Load() }

func (f *fakeTarget) closeTransport() error {
	f.open.Store(false)
	close(f.closed)
	return nil
}

func (f *fakeTarget) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func TestKeepalive_PingsRepeat(t *testing.T) {
	target := newFakeTarget()
	ka := newKeepalive(target, discardLogger(), metrics.New(), 10*time.Millisecond, time.Minute)
	defer ka.clear()

	ka.start()

	deadline := time.Now().Add(2 * time.Second)
	for target.pingCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for pings, got %d", target.pingCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestKeepalive_SilentPeerForcedClosed(t *testing.T) {
	target := newFakeTarget()
	m := metrics.New()
	ka := newKeepalive(target, discardLogger(), m, 10*time.Millisecond, 50*time.Millisecond)
	defer ka.clear()

	ka.start()

	select {
	case <-target.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for forced close of silent peer")
	}
	if m.Get(metrics.ForcedClose) != 1 {
		t.Fatalf("forced close count = %d, want 1", m.Get(metrics.ForcedClose))
	}
}

func TestKeepalive_PongExtendsDeadline(t *testing.T) {
	target := newFakeTarget()
	ka := newKeepalive(target, discardLogger(), metrics.New(), 10*time.Millisecond, 80*time.Millisecond)
	defer ka.clear()

	ka.start()

	// Keep answering for several multiples of the timeout.
	stop := time.After(300 * time.Millisecond)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-tick.C:
			ka.consumePong()
		case <-target.closed:
			t.Fatalf("connection force-closed despite timely pongs")
		case <-stop:
			break loop
		}
	}

	// Once the pongs stop, one timeout of silence closes it.
	select {
	case <-target.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for forced close after pongs stopped")
	}
}

func TestKeepalive_ClearStopsTimers(t *testing.T) {
	target := newFakeTarget()
	ka := newKeepalive(target, discardLogger(), metrics.New(), 10*time.Millisecond, 30*time.Millisecond)

	ka.start()
	ka.clear()

	select {
	case <-target.closed:
		t.Fatalf("cleared keepalive must not close the transport")
	case <-time.After(100 * time.Millisecond):
	}

	before := target.pingCount()
	time.Sleep(50 * time.Millisecond)
	if after := target.pingCount(); after != before {
		t.Fatalf("ping timer still firing after clear: %d -> %d", before, after)
	}

	// Late pongs after clear are no-ops.
	ka.consumePong()
	select {
	case <-target.closed:
		t.Fatalf("pong after clear rearmed the deadline")
	case <-time.After(60 * time.Millisecond):
	}
}
