// Package session implements the local study timer and the coordinator
// that reconciles it with the remote ledger.
//
// The clock is cooperative and local: it advances once per wall-clock
// second while running, but elapsed time is always derived from wall-clock
// deltas (now minus the session start), never from counted ticks. A host
// that suspends the process loses ticks, not time: the first tick after
// resume accrues the whole gap.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrAlreadyRunning is returned when starting a clock that has an open
	// interval. Only one interval may be open per (user, group) pair.
	ErrAlreadyRunning = errors.New("session clock already running")

	// ErrNotRunning is returned when stopping a clock with no open interval.
	ErrNotRunning = errors.New("session clock not running")
)

// TickFunc is invoked once per second while the clock runs.
type TickFunc func(now time.Time)

// SessionClock advances an elapsed interval at 1 Hz while running. It does
// no remote work itself; each tick hands the current time to the callback,
// which accrues points and checks flush boundaries.
type SessionClock struct {
	clock  clockwork.Clock
	onTick TickFunc

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSessionClock creates a stopped clock.
func NewSessionClock(clock clockwork.Clock, onTick TickFunc) *SessionClock {
	return &SessionClock{clock: clock, onTick: onTick}
}

// Start opens an interval and begins ticking until Stop or ctx cancellation.
func (s *SessionClock) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.startedAt = s.clock.Now()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return nil
}

func (s *SessionClock) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if s.onTick != nil {
				s.onTick(s.clock.Now())
			}
		}
	}
}

// Stop closes the open interval and returns its wall-clock length.
func (s *SessionClock) Stop() (time.Duration, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return 0, ErrNotRunning
	}
	s.running = false
	elapsed := s.clock.Now().Sub(s.startedAt)
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	return elapsed, nil
}

// Running reports whether an interval is open.
func (s *SessionClock) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartedAt returns the open interval's start time, zero when stopped.
func (s *SessionClock) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.startedAt
}

// Elapsed returns the open interval's current length from wall-clock
// deltas, zero when stopped.
func (s *SessionClock) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.clock.Now().Sub(s.startedAt)
}
