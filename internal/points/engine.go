// Package points converts elapsed study seconds into earned points.
//
// Time is credited in fixed 30-second buckets worth one base point each.
// Multipliers combine in a fixed order: double_points doubles first, then
// speed_boost multiplies by 1.5 rounded up. Sub-bucket remainders roll over
// to the next checkpoint; points are never emitted for a partial bucket.
package points

import (
	"sync"
	"time"

	"github.com/studycircle/studycircle/internal/models"
)

// BucketSeconds is the elapsed time that yields one base point.
const BucketSeconds = 30

// MultiplierSource reports which effect kinds are active at a given instant.
// The engine queries it at every bucket boundary so a bucket is valued by
// the effects live when it completed, not when the session started.
type MultiplierSource interface {
	Active(kind models.EffectKind, now time.Time) bool
}

// Engine accumulates elapsed seconds and holds the resulting points until a
// flush drains them. Safe for concurrent use by the ticking clock and the
// flush path.
type Engine struct {
	effects MultiplierSource

	mu        sync.Mutex
	remainder int // sub-bucket seconds carried forward
	pending   int // earned points awaiting a successful flush
}

// NewEngine creates an engine reading multipliers from effects.
func NewEngine(effects MultiplierSource) *Engine {
	return &Engine{effects: effects}
}

// Advance credits the elapsed seconds since the last call, returning the
// points earned by buckets completed inside this advance.
func (e *Engine) Advance(seconds int, now time.Time) int {
	if seconds <= 0 {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	carried := e.remainder
	total := carried + seconds
	buckets := total / BucketSeconds
	e.remainder = total % BucketSeconds
	if buckets == 0 {
		return 0
	}

	// Value each bucket at its own completion instant. A catch-up advance
	// spanning several buckets (resume after hidden, watchdog) must not let
	// a multiplier that expired mid-span price the whole span.
	earned := 0
	for k := 1; k <= buckets; k++ {
		boundary := now.Add(-time.Duration(seconds-(k*BucketSeconds-carried)) * time.Second)
		earned += e.bucketValue(boundary)
	}
	e.pending += earned
	return earned
}

// bucketValue applies the active multipliers to one base point. Order is
// fixed: double first, then boost with ceiling.
func (e *Engine) bucketValue(now time.Time) int {
	p := 1
	if e.effects != nil && e.effects.Active(models.EffectDoublePoints, now) {
		p *= 2
	}
	if e.effects != nil && e.effects.Active(models.EffectSpeedBoost, now) {
		p = (p*3 + 1) / 2 // ceil(p * 1.5)
	}
	return p
}

// DrainPoints takes the pending points for a flush attempt. A failed flush
// must hand them back with RefundPoints so the next attempt carries them.
func (e *Engine) DrainPoints() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.pending
	e.pending = 0
	return n
}

// RefundPoints returns undelivered points to the pending pool after a
// failed flush.
func (e *Engine) RefundPoints(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	e.pending += n
	e.mu.Unlock()
}

// PendingPoints reports the points earned but not yet flushed.
func (e *Engine) PendingPoints() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// DropRemainder discards the carried sub-bucket seconds. Called when an
// interval closes: completed buckets were already credited, only the
// sub-30-second tail is forfeited.
func (e *Engine) DropRemainder() {
	e.mu.Lock()
	e.remainder = 0
	e.mu.Unlock()
}

// Remainder reports the carried sub-bucket seconds.
func (e *Engine) Remainder() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remainder
}
