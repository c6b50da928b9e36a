package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/points"
)

// FlushReason labels what triggered a flush, for logging and for deciding
// whether the flush closes the session aggregate.
type FlushReason string

const (
	// ReasonBoundary fires when 60 unflushed local seconds accumulate.
	ReasonBoundary FlushReason = "boundary"
	// ReasonHidden fires when the host reports visibility loss.
	ReasonHidden FlushReason = "hidden"
	// ReasonStop fires when the timer is stopped.
	ReasonStop FlushReason = "stop"
	// ReasonTeardown fires on unmount; the attempt is best effort.
	ReasonTeardown FlushReason = "teardown"
	// ReasonWatchdog fires when a flush has not succeeded for too long
	// while a session stays open.
	ReasonWatchdog FlushReason = "watchdog"
)

const (
	// flushBoundary is the accumulated local time that forces a flush.
	flushBoundary = 60 * time.Second
	// watchdogInterval is how often the catch-up check runs.
	watchdogInterval = 10 * time.Second
	// watchdogStale is how long since the last successful flush before the
	// watchdog fires.
	watchdogStale = 30 * time.Second
)

// Flush is the delta payload committed to the remote ledger. Values are
// always deltas, never absolutes, so the remote increments stay additive.
type Flush struct {
	UserID  string
	GroupID string
	Seconds int
	Points  int
	// ClosedSessions counts intervals closed since the last successful
	// flush; it increments the pair's sessionsCount aggregate.
	ClosedSessions int
	At             time.Time
	Reason         FlushReason
}

// Flusher commits a flush to the remote ledger.
type Flusher interface {
	Flush(ctx context.Context, f Flush) error
}

// Coordinator decides when locally accumulated time and points move to the
// remote ledger, and guarantees at most one flush is in flight. Triggers
// arriving while a flush runs are dropped, not queued: the unflushed
// remainder simply rides the next boundary.
type Coordinator struct {
	userID  string
	groupID string
	flusher Flusher
	engine  *points.Engine
	clock   clockwork.Clock

	// flushing is the Idle/Flushing gate.
	flushing atomic.Bool

	mu             sync.Mutex
	sessionOpen    bool
	accruedThrough time.Time // wall-clock point up to which time was accrued
	pendingSeconds int       // accrued seconds not yet successfully flushed
	closedSessions int       // closed intervals not yet recorded remotely
	lastFlushOK    time.Time
}

// NewCoordinator creates a coordinator for one (user, group) pair.
func NewCoordinator(userID, groupID string, flusher Flusher, engine *points.Engine, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		userID:  userID,
		groupID: groupID,
		flusher: flusher,
		engine:  engine,
		clock:   clock,
	}
}

// SessionOpened marks the start of a new interval.
func (c *Coordinator) SessionOpened(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionOpen = true
	c.accruedThrough = start
	c.lastFlushOK = start
}

// HandleTick accrues elapsed time and fires a boundary flush when due.
// Called from the session clock at 1 Hz; the accrual is wall-clock based,
// so missed ticks are made up by the next one.
func (c *Coordinator) HandleTick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	c.accrueLocked(now)
	due := c.sessionOpen && time.Duration(c.pendingSeconds)*time.Second >= flushBoundary
	c.mu.Unlock()

	if due {
		c.TriggerFlush(ctx, ReasonBoundary)
	}
}

// SessionClosed accrues the final stretch of a stopping interval, forfeits
// the sub-bucket remainder, and marks one closed session for the next
// flush. The caller follows up with a stop-reason flush.
func (c *Coordinator) SessionClosed(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accrueLocked(now)
	c.engine.DropRemainder()
	c.sessionOpen = false
	c.closedSessions++
}

// accrueLocked feeds the wall-clock delta since the last accrual into the
// points engine and the unflushed-seconds counter.
func (c *Coordinator) accrueLocked(now time.Time) {
	if !c.sessionOpen {
		return
	}
	delta := int(now.Sub(c.accruedThrough).Seconds())
	if delta <= 0 {
		return
	}
	c.accruedThrough = c.accruedThrough.Add(time.Duration(delta) * time.Second)
	c.pendingSeconds += delta
	c.engine.Advance(delta, now)
}

// TriggerFlush requests a flush. If one is already in flight the trigger
// is coalesced away. The flush itself runs in its own goroutine so the
// local clock never blocks on remote writes.
func (c *Coordinator) TriggerFlush(ctx context.Context, reason FlushReason) {
	if !c.flushing.CompareAndSwap(false, true) {
		log.Debug().
			Str("uid", c.userID).
			Str("group_id", c.groupID).
			Str("reason", string(reason)).
			Msg("flush already in flight; trigger dropped")
		return
	}

	go func() {
		defer c.flushing.Store(false)
		c.flush(ctx, reason)
	}()
}

// FlushNow runs a flush synchronously, used by Stop so callers observe the
// commit. Returns without flushing if one is already in flight.
func (c *Coordinator) FlushNow(ctx context.Context, reason FlushReason) {
	if !c.flushing.CompareAndSwap(false, true) {
		log.Debug().
			Str("uid", c.userID).
			Str("group_id", c.groupID).
			Str("reason", string(reason)).
			Msg("flush already in flight; synchronous trigger dropped")
		return
	}
	defer c.flushing.Store(false)
	c.flush(ctx, reason)
}

func (c *Coordinator) flush(ctx context.Context, reason FlushReason) {
	now := c.clock.Now()

	c.mu.Lock()
	c.accrueLocked(now)
	seconds := c.pendingSeconds
	closed := c.closedSessions
	c.mu.Unlock()

	pts := c.engine.DrainPoints()

	if seconds == 0 && pts == 0 && closed == 0 {
		c.mu.Lock()
		c.lastFlushOK = now
		c.mu.Unlock()
		return
	}

	f := Flush{
		UserID:         c.userID,
		GroupID:        c.groupID,
		Seconds:        seconds,
		Points:         pts,
		ClosedSessions: closed,
		At:             now,
		Reason:         reason,
	}
	if err := c.flusher.Flush(ctx, f); err != nil {
		// Transient failure: the delta stays pending and rides the next
		// trigger. No immediate retry.
		c.engine.RefundPoints(pts)
		log.Warn().
			Err(err).
			Str("uid", c.userID).
			Str("group_id", c.groupID).
			Str("reason", string(reason)).
			Int("seconds", seconds).
			Int("points", pts).
			Msg("flush failed; delta kept pending")
		return
	}

	c.mu.Lock()
	c.pendingSeconds -= seconds
	c.closedSessions -= closed
	c.lastFlushOK = now
	c.mu.Unlock()

	log.Debug().
		Str("uid", c.userID).
		Str("group_id", c.groupID).
		Str("reason", string(reason)).
		Int("seconds", seconds).
		Int("points", pts).
		Msg("flush committed")
}

// RunWatchdog periodically forces a catch-up flush while a session stays
// open without a recent successful flush. Runs until ctx is cancelled.
func (c *Coordinator) RunWatchdog(ctx context.Context) {
	ticker := c.clock.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.mu.Lock()
			stale := c.sessionOpen && c.clock.Now().Sub(c.lastFlushOK) >= watchdogStale
			c.mu.Unlock()
			if stale {
				c.TriggerFlush(ctx, ReasonWatchdog)
			}
		}
	}
}

// PendingSeconds reports the locally accumulated seconds awaiting flush.
func (c *Coordinator) PendingSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSeconds
}
