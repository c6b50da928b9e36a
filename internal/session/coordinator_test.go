package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/studycircle/studycircle/internal/points"
)

type fakeFlusher struct {
	mu      sync.Mutex
	flushes []Flush
	fail    bool
	release chan struct{} // when set, Flush blocks until closed
}

func (f *fakeFlusher) Flush(ctx context.Context, fl Flush) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("network down")
	}
	f.flushes = append(f.flushes, fl)
	return nil
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flushes)
}

func (f *fakeFlusher) last() Flush {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes[len(f.flushes)-1]
}

func newTestCoordinator(fl Flusher, clock clockwork.Clock) (*Coordinator, *points.Engine) {
	engine := points.NewEngine(nil)
	return NewCoordinator("alice", "g1", fl, engine, clock), engine
}

func TestFlushCarriesDelta(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fl := &fakeFlusher{}
	c, _ := newTestCoordinator(fl, clock)

	c.SessionOpened(clock.Now())
	clock.Advance(95 * time.Second)
	c.FlushNow(context.Background(), ReasonHidden)

	if fl.count() != 1 {
		t.Fatalf("flush count = %d, want 1", fl.count())
	}
	got := fl.last()
	if got.Seconds != 95 {
		t.Errorf("seconds = %d, want 95", got.Seconds)
	}
	if got.Points != 3 {
		t.Errorf("points = %d, want 3 (floor(95/30) buckets)", got.Points)
	}
	if got.UserID != "alice" || got.GroupID != "g1" {
		t.Errorf("pair = %s/%s", got.UserID, got.GroupID)
	}
	if c.PendingSeconds() != 0 {
		t.Errorf("pending after success = %d, want 0", c.PendingSeconds())
	}
}

func TestFlushPayloadIsDeltaNotAbsolute(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fl := &fakeFlusher{}
	c, _ := newTestCoordinator(fl, clock)

	c.SessionOpened(clock.Now())
	clock.Advance(60 * time.Second)
	c.FlushNow(context.Background(), ReasonBoundary)
	clock.Advance(40 * time.Second)
	c.FlushNow(context.Background(), ReasonBoundary)

	if fl.count() != 2 {
		t.Fatalf("flush count = %d, want 2", fl.count())
	}
	if first := fl.flushes[0].Seconds; first != 60 {
		t.Errorf("first delta = %d, want 60", first)
	}
	// The second flush carries only what accumulated since the checkpoint.
	if second := fl.flushes[1].Seconds; second != 40 {
		t.Errorf("second delta = %d, want 40", second)
	}
}

func TestFailedFlushKeepsDeltaPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fl := &fakeFlusher{fail: true}
	c, engine := newTestCoordinator(fl, clock)

	c.SessionOpened(clock.Now())
	clock.Advance(60 * time.Second)
	c.FlushNow(context.Background(), ReasonBoundary)

	if c.PendingSeconds() != 60 {
		t.Errorf("pending after failure = %d, want 60", c.PendingSeconds())
	}
	if engine.PendingPoints() != 2 {
		t.Errorf("points refunded = %d, want 2", engine.PendingPoints())
	}

	// Next trigger carries the failed delta plus new accumulation.
	fl.mu.Lock()
	fl.fail = false
	fl.mu.Unlock()
	clock.Advance(30 * time.Second)
	c.FlushNow(context.Background(), ReasonBoundary)

	got := fl.last()
	if got.Seconds != 90 {
		t.Errorf("retry delta = %d, want 90", got.Seconds)
	}
	if got.Points != 3 {
		t.Errorf("retry points = %d, want 3", got.Points)
	}
}

func TestTriggerCoalescedWhileFlushing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	fl := &fakeFlusher{release: release}
	c, _ := newTestCoordinator(fl, clock)

	c.SessionOpened(clock.Now())
	clock.Advance(60 * time.Second)

	ctx := context.Background()
	c.TriggerFlush(ctx, ReasonBoundary)
	// These arrive while the first flush is blocked remote-side: dropped.
	c.TriggerFlush(ctx, ReasonHidden)
	c.TriggerFlush(ctx, ReasonWatchdog)
	close(release)

	waitFor(t, func() bool { return fl.count() == 1 })
	// Give the dropped triggers a moment to (not) produce more flushes.
	time.Sleep(20 * time.Millisecond)
	if fl.count() != 1 {
		t.Errorf("flush count = %d, want 1 (triggers coalesce)", fl.count())
	}
}

func TestEmptyFlushSkipsRemoteWrite(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fl := &fakeFlusher{}
	c, _ := newTestCoordinator(fl, clock)

	c.SessionOpened(clock.Now())
	c.FlushNow(context.Background(), ReasonHidden) // nothing accumulated

	if fl.count() != 0 {
		t.Errorf("flush count = %d, want 0 for empty delta", fl.count())
	}
}

func TestSessionClosedDropsRemainderOnly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fl := &fakeFlusher{}
	c, engine := newTestCoordinator(fl, clock)

	c.SessionOpened(clock.Now())
	clock.Advance(95 * time.Second)
	c.SessionClosed(clock.Now())
	c.FlushNow(context.Background(), ReasonStop)

	got := fl.last()
	// Completed buckets survive the stop; only the 5s tail is forfeited.
	if got.Points != 3 {
		t.Errorf("points = %d, want 3", got.Points)
	}
	if got.Seconds != 95 {
		t.Errorf("seconds = %d, want 95", got.Seconds)
	}
	if got.ClosedSessions != 1 {
		t.Errorf("closed sessions = %d, want 1", got.ClosedSessions)
	}
	if engine.Remainder() != 0 {
		t.Errorf("remainder = %d, want 0 after close", engine.Remainder())
	}
}

func TestWatchdogFiresWhenStale(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fl := &fakeFlusher{}
	c, _ := newTestCoordinator(fl, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunWatchdog(ctx)

	c.SessionOpened(clock.Now())
	for i := 0; i < 3; i++ {
		clock.BlockUntilContext(ctx, 1)
		clock.Advance(watchdogInterval)
	}

	// 30s without a successful flush: the watchdog catches up.
	waitFor(t, func() bool { return fl.count() >= 1 })
	if got := fl.last(); got.Reason != ReasonWatchdog {
		t.Errorf("reason = %q, want watchdog", got.Reason)
	}
}

func TestWatchdogIdleWithoutSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fl := &fakeFlusher{}
	c, _ := newTestCoordinator(fl, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunWatchdog(ctx)

	// No session was ever opened; the watchdog stays quiet.
	for i := 0; i < 5; i++ {
		clock.BlockUntilContext(ctx, 1)
		clock.Advance(watchdogInterval)
	}
	time.Sleep(20 * time.Millisecond)
	if fl.count() != 0 {
		t.Errorf("flush count = %d, want 0 with no open session", fl.count())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
