package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/effects"
	"github.com/studycircle/studycircle/internal/points"
)

// Tracker wires one (user, group) pair's clock, points engine, and flush
// coordinator together. The host drives it with Start/Stop and forwards
// lifecycle signals (visibility loss, teardown).
type Tracker struct {
	userID  string
	groupID string

	clock   clockwork.Clock
	engine  *points.Engine
	effects *effects.Manager
	coord   *Coordinator
	sclock  *SessionClock

	watchdogCancel context.CancelFunc
}

// NewTracker creates a tracker. effectsMgr supplies the active multiplier
// at each bucket boundary; flusher commits deltas to the remote ledger.
func NewTracker(userID, groupID string, flusher Flusher, effectsMgr *effects.Manager, clock clockwork.Clock) *Tracker {
	engine := points.NewEngine(effectsMgr)
	coord := NewCoordinator(userID, groupID, flusher, engine, clock)

	t := &Tracker{
		userID:  userID,
		groupID: groupID,
		clock:   clock,
		engine:  engine,
		effects: effectsMgr,
		coord:   coord,
	}
	t.sclock = NewSessionClock(clock, func(now time.Time) {
		coord.HandleTick(context.Background(), now)
	})

	watchdogCtx, cancel := context.WithCancel(context.Background())
	t.watchdogCancel = cancel
	go coord.RunWatchdog(watchdogCtx)

	return t
}

// Start opens the study interval. Only one interval may be open at a time.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.sclock.Start(ctx); err != nil {
		return err
	}
	t.coord.SessionOpened(t.sclock.StartedAt())

	log.Info().Str("uid", t.userID).Str("group_id", t.groupID).Msg("study session started")
	return nil
}

// Stop closes the interval, credits any completed buckets, drops the
// sub-bucket remainder, and flushes synchronously. Returns the interval's
// wall-clock length.
func (t *Tracker) Stop(ctx context.Context) (time.Duration, error) {
	elapsed, err := t.sclock.Stop()
	if err != nil {
		return 0, err
	}
	t.coord.SessionClosed(t.clock.Now())
	t.coord.FlushNow(ctx, ReasonStop)

	log.Info().
		Str("uid", t.userID).
		Str("group_id", t.groupID).
		Dur("elapsed", elapsed).
		Msg("study session stopped")
	return elapsed, nil
}

// NotifyHidden triggers a flush when the host loses visibility. The clock
// keeps running; only the accumulated delta is pushed out early.
func (t *Tracker) NotifyHidden(ctx context.Context) {
	t.coord.TriggerFlush(ctx, ReasonHidden)
}

// Close tears the tracker down with a final best-effort flush. The flush
// is not awaited: on abrupt termination the delta since the last
// successful flush is lost, an accepted gap.
func (t *Tracker) Close(ctx context.Context) {
	if t.sclock.Running() {
		if _, err := t.sclock.Stop(); err == nil {
			t.coord.SessionClosed(t.clock.Now())
		}
	}
	t.coord.TriggerFlush(ctx, ReasonTeardown)
	t.watchdogCancel()
}

// Elapsed reports the open interval's current length.
func (t *Tracker) Elapsed() time.Duration {
	return t.sclock.Elapsed()
}

// Running reports whether an interval is open.
func (t *Tracker) Running() bool {
	return t.sclock.Running()
}
