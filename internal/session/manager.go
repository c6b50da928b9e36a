package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/studycircle/studycircle/internal/effects"
)

// EffectsProvider hands out the per-user effects manager the tracker reads
// multipliers from.
type EffectsProvider interface {
	ForUser(uid string) *effects.Manager
}

// Manager hosts the live trackers, one per open (user, group) pair, and
// enforces the one-open-interval rule across them.
type Manager struct {
	flusher  Flusher
	provider EffectsProvider
	clock    clockwork.Clock

	mu       sync.Mutex
	trackers map[string]*Tracker // key uid+"_"+groupID
}

// NewManager creates an empty tracker registry.
func NewManager(flusher Flusher, provider EffectsProvider, clock clockwork.Clock) *Manager {
	return &Manager{
		flusher:  flusher,
		provider: provider,
		clock:    clock,
		trackers: make(map[string]*Tracker),
	}
}

// StartSession opens a study interval for the pair. A pair with an open
// interval cannot start another.
func (m *Manager) StartSession(ctx context.Context, uid, groupID string) (*Tracker, error) {
	key := uid + "_" + groupID

	m.mu.Lock()
	t, ok := m.trackers[key]
	if !ok {
		t = NewTracker(uid, groupID, m.flusher, m.provider.ForUser(uid), m.clock)
		m.trackers[key] = t
	}
	m.mu.Unlock()

	if err := t.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start session for %s/%s: %w", uid, groupID, err)
	}
	return t, nil
}

// StopSession closes the pair's open interval and returns its length.
func (m *Manager) StopSession(ctx context.Context, uid, groupID string) (time.Duration, error) {
	m.mu.Lock()
	t, ok := m.trackers[uid+"_"+groupID]
	m.mu.Unlock()

	if !ok {
		return 0, ErrNotRunning
	}
	return t.Stop(ctx)
}

// Tracker returns the live tracker for a pair, if any.
func (m *Manager) Tracker(uid, groupID string) (*Tracker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[uid+"_"+groupID]
	return t, ok
}

// CloseAll tears down every tracker with a final best-effort flush each.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.trackers = make(map[string]*Tracker)
	m.mu.Unlock()

	for _, t := range trackers {
		t.Close(ctx)
	}
}
