// Package effects tracks the modifier effects currently active for a user
// and expires them on a fixed sweep cadence.
package effects

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/models"
)

// SweepInterval is the cadence of the expiry sweep, independent of the
// session clock.
const SweepInterval = 30 * time.Second

// Deactivator issues the best-effort remote deactivation write when a
// persisted effect expires locally. Failures are logged, not retried:
// local state is the source of truth for gameplay and the remote copy may
// lag.
type Deactivator interface {
	Deactivate(ctx context.Context, uid, itemID string) error
}

// Manager holds the active effects for one user. At most one effect per
// kind is active; activating a second item of the same kind replaces the
// expiry rather than stacking. All reads filter out expired entries, so a
// consumer never observes an effect past its expiry even between sweeps.
type Manager struct {
	uid         string
	clock       clockwork.Clock
	deactivator Deactivator

	mu     sync.Mutex
	active map[models.EffectKind]models.ActiveEffect
}

// NewManager creates a manager for one user. deactivator may be nil when
// remote deactivation is handled elsewhere.
func NewManager(uid string, clock clockwork.Clock, deactivator Deactivator) *Manager {
	return &Manager{
		uid:         uid,
		clock:       clock,
		deactivator: deactivator,
		active:      make(map[models.EffectKind]models.ActiveEffect),
	}
}

// Activate registers an effect. An existing effect of the same kind is
// replaced.
func (m *Manager) Activate(eff models.ActiveEffect) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.active[eff.Kind]; ok {
		log.Debug().
			Str("uid", m.uid).
			Str("kind", string(eff.Kind)).
			Time("prev_expiry", prev.ExpiresAt).
			Time("new_expiry", eff.ExpiresAt).
			Msg("replacing active effect of same kind")
	}
	m.active[eff.Kind] = eff
}

// Load replaces the local active set wholesale, used when hydrating from
// the remote store or applying a change-feed update.
func (m *Manager) Load(effs []models.ActiveEffect) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = make(map[models.EffectKind]models.ActiveEffect, len(effs))
	for _, eff := range effs {
		m.active[eff.Kind] = eff
	}
}

// Active reports whether an unexpired effect of the given kind is running.
func (m *Manager) Active(kind models.EffectKind, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	eff, ok := m.active[kind]
	return ok && eff.ExpiresAt.After(now)
}

// ActiveEffects returns the unexpired effects.
func (m *Manager) ActiveEffects() []models.ActiveEffect {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ActiveEffect
	for _, eff := range m.active {
		if eff.ExpiresAt.After(now) {
			out = append(out, eff)
		}
	}
	return out
}

// Remove drops the effect backed by itemID, if present. Used for explicit
// deactivation; removing an unknown item is a no-op.
func (m *Manager) Remove(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind, eff := range m.active {
		if eff.ItemID == itemID {
			delete(m.active, kind)
			return
		}
	}
}

// RunSweeper expires effects on a fixed cadence until ctx is cancelled.
// Expired entries are removed locally first; the remote deactivation write
// is best effort and never blocks removal.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := m.clock.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []models.ActiveEffect
	for kind, eff := range m.active {
		if !eff.ExpiresAt.After(now) {
			expired = append(expired, eff)
			delete(m.active, kind)
		}
	}
	m.mu.Unlock()

	for _, eff := range expired {
		log.Info().
			Str("uid", m.uid).
			Str("item_id", eff.ItemID).
			Str("kind", string(eff.Kind)).
			Msg("effect expired")

		if m.deactivator == nil {
			continue
		}
		if err := m.deactivator.Deactivate(ctx, m.uid, eff.ItemID); err != nil {
			log.Warn().
				Err(err).
				Str("uid", m.uid).
				Str("item_id", eff.ItemID).
				Msg("remote deactivation failed; local removal stands")
		}
	}
}
