package points

import (
	"testing"
	"time"

	"github.com/studycircle/studycircle/internal/models"
)

type fakeEffects struct {
	double bool
	boost  bool
}

func (f *fakeEffects) Active(kind models.EffectKind, now time.Time) bool {
	switch kind {
	case models.EffectDoublePoints:
		return f.double
	case models.EffectSpeedBoost:
		return f.boost
	}
	return false
}

func TestAdvanceBuckets(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name          string
		double, boost bool
		seconds       int
		wantPoints    int
		wantRemainder int
	}{
		{"partial bucket earns nothing", false, false, 29, 0, 29},
		{"exact bucket", false, false, 30, 1, 0},
		{"95s keeps 5s remainder", false, false, 95, 3, 5},
		{"double active", true, false, 60, 4, 0},
		{"boost active rounds up", false, true, 30, 2, 0},
		{"double then boost", true, true, 30, 3, 0},
		{"zero seconds", false, false, 0, 0, 0},
		{"negative ignored", false, false, -10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&fakeEffects{double: tt.double, boost: tt.boost})
			got := e.Advance(tt.seconds, now)
			if got != tt.wantPoints {
				t.Errorf("Advance(%d) = %d points, want %d", tt.seconds, got, tt.wantPoints)
			}
			if e.Remainder() != tt.wantRemainder {
				t.Errorf("remainder = %d, want %d", e.Remainder(), tt.wantRemainder)
			}
		})
	}
}

func TestRemainderRollsOver(t *testing.T) {
	e := NewEngine(&fakeEffects{})
	now := time.Now()

	if got := e.Advance(20, now); got != 0 {
		t.Fatalf("first advance earned %d, want 0", got)
	}
	// 20 carried + 15 new = 35: one bucket completes, 5 carry again.
	if got := e.Advance(15, now); got != 1 {
		t.Fatalf("second advance earned %d, want 1", got)
	}
	if e.Remainder() != 5 {
		t.Errorf("remainder = %d, want 5", e.Remainder())
	}
}

func TestTickByTickMatchesBulk(t *testing.T) {
	// One-second ticks for 95 seconds must credit the same as one 95s
	// advance: floor(95/30) buckets.
	e := NewEngine(&fakeEffects{})
	now := time.Now()
	total := 0
	for i := 0; i < 95; i++ {
		total += e.Advance(1, now.Add(time.Duration(i)*time.Second))
	}
	if total != 3 {
		t.Errorf("tick-by-tick earned %d, want 3", total)
	}
	if e.Remainder() != 5 {
		t.Errorf("remainder = %d, want 5", e.Remainder())
	}
}

func TestMultiplierReadPerBucket(t *testing.T) {
	// The first bucket completes with no effects, the second with double
	// active: 1 + 2 points.
	eff := &fakeEffects{}
	e := NewEngine(eff)
	now := time.Now()

	first := e.Advance(30, now)
	eff.double = true
	second := e.Advance(30, now.Add(30*time.Second))

	if first != 1 || second != 2 {
		t.Errorf("earned %d then %d, want 1 then 2", first, second)
	}
}

type windowedEffects struct {
	kind  models.EffectKind
	until time.Time
}

func (w *windowedEffects) Active(kind models.EffectKind, now time.Time) bool {
	return kind == w.kind && now.Before(w.until)
}

func TestCatchUpAdvanceValuesEachBoundary(t *testing.T) {
	// A single 90s advance spans three buckets. Double expires 45s in, so
	// only the first bucket boundary sees it: 2 + 1 + 1, not 3x the
	// multiplier at resume time.
	start := time.Now()
	e := NewEngine(&windowedEffects{
		kind:  models.EffectDoublePoints,
		until: start.Add(45 * time.Second),
	})

	if got := e.Advance(90, start.Add(90*time.Second)); got != 4 {
		t.Errorf("Advance(90) = %d points, want 4", got)
	}
}

func TestCatchUpAdvanceCountsCarriedSeconds(t *testing.T) {
	// 20s carried plus a 70s advance: boundaries land 10s, 40s, and 70s
	// into the advance. Double expires before the last boundary.
	start := time.Now()
	e := NewEngine(&windowedEffects{
		kind:  models.EffectDoublePoints,
		until: start.Add(65 * time.Second),
	})

	if got := e.Advance(20, start.Add(20*time.Second)); got != 0 {
		t.Fatalf("Advance(20) = %d points, want 0", got)
	}
	// Boundaries at start+30 and start+60 see double, start+90 does not.
	if got := e.Advance(70, start.Add(90*time.Second)); got != 5 {
		t.Errorf("Advance(70) = %d points, want 5", got)
	}
	if e.Remainder() != 0 {
		t.Errorf("remainder = %d, want 0", e.Remainder())
	}
}

func TestDrainAndRefund(t *testing.T) {
	e := NewEngine(&fakeEffects{})
	now := time.Now()
	e.Advance(90, now)

	if got := e.DrainPoints(); got != 3 {
		t.Fatalf("DrainPoints = %d, want 3", got)
	}
	if e.PendingPoints() != 0 {
		t.Fatalf("pending after drain = %d, want 0", e.PendingPoints())
	}

	// Flush failed: points return to the pool and stack with new earnings.
	e.RefundPoints(3)
	e.Advance(30, now)
	if e.PendingPoints() != 4 {
		t.Errorf("pending = %d, want 4", e.PendingPoints())
	}
}

func TestDropRemainder(t *testing.T) {
	e := NewEngine(&fakeEffects{})
	e.Advance(29, time.Now())
	e.DropRemainder()
	if e.Remainder() != 0 {
		t.Errorf("remainder = %d, want 0", e.Remainder())
	}
	// The dropped tail never converts to points later.
	if got := e.Advance(1, time.Now()); got != 0 {
		t.Errorf("advance after drop earned %d, want 0", got)
	}
}
