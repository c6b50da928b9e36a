// Package memory is the in-memory store adapter. It implements the same
// document collections as the Postgres adapter with versioned documents and
// optimistic CAS transactions, and is the implementation the engine tests
// run against.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studycircle/studycircle/internal/models"
	"github.com/studycircle/studycircle/internal/storage"
)

// maxTxAttempts bounds the CAS retry loop. Conflicts only delay a commit,
// they never corrupt one, so a small budget is plenty.
const maxTxAttempts = 16

type versioned[T any] struct {
	version uint64
	value   T
}

// Store holds every collection in memory behind a single lock. Transactions
// are optimistic: the closure runs against a deep copy outside the lock and
// the commit is retried if the document version moved underneath it.
type Store struct {
	mu      sync.RWMutex
	users   map[string]versioned[*models.User]
	groups  map[string]versioned[*models.Group]
	pairs   map[string]*models.SessionStats // key uid+"_"+groupID
	records []models.StudySessionRecord
	invs    map[string]versioned[*models.Inventory]
	effects map[string]versioned[*models.ActiveEffects]

	now func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]versioned[*models.User]),
		groups:  make(map[string]versioned[*models.Group]),
		pairs:   make(map[string]*models.SessionStats),
		invs:    make(map[string]versioned[*models.Inventory]),
		effects: make(map[string]versioned[*models.ActiveEffects]),
		now:     time.Now,
	}
}

// SetNowFunc overrides the timestamp source. Tests pair this with a fake
// clock so persisted timestamps line up with clock-driven assertions.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

// EnsureUser returns the user document, creating a zeroed one on first use.
func (s *Store) EnsureUser(ctx context.Context, uid string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.users[uid]; ok {
		return doc.value.Clone(), nil
	}
	u := &models.User{UID: uid, CreatedAt: s.now()}
	s.users[uid] = versioned[*models.User]{version: 1, value: u}
	return u.Clone(), nil
}

// GetUser fetches a user document.
func (s *Store) GetUser(ctx context.Context, uid string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.users[uid]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return doc.value.Clone(), nil
}

// AddUserPoints atomically increments a user's spendable balance.
func (s *Store) AddUserPoints(ctx context.Context, uid string, delta int) error {
	return s.UpdateUser(ctx, uid, func(u *models.User) error {
		u.Points += delta
		return nil
	})
}

// AddUserStudyTime atomically increments a user's lifetime study seconds.
func (s *Store) AddUserStudyTime(ctx context.Context, uid string, seconds int) error {
	return s.UpdateUser(ctx, uid, func(u *models.User) error {
		u.TotalStudyTime += seconds
		return nil
	})
}

// UpdateUser runs an optimistic read-modify-write transaction against a
// user document, creating it first if absent.
func (s *Store) UpdateUser(ctx context.Context, uid string, fn func(*models.User) error) error {
	if _, err := s.EnsureUser(ctx, uid); err != nil {
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		s.mu.RLock()
		doc := s.users[uid]
		snapshot := doc.value.Clone()
		s.mu.RUnlock()

		if err := fn(snapshot); err != nil {
			return err
		}

		s.mu.Lock()
		if s.users[uid].version == doc.version {
			s.users[uid] = versioned[*models.User]{version: doc.version + 1, value: snapshot}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
	}
	return storage.ErrTooMuchContention
}

// CreateGroup stores a new group document.
func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	s.groups[g.ID] = versioned[*models.Group]{version: 1, value: g.Clone()}
	return nil
}

// GetGroup fetches a group document.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.groups[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return doc.value.Clone(), nil
}

// UpdateGroup runs an optimistic read-modify-write transaction against a
// group document.
func (s *Store) UpdateGroup(ctx context.Context, groupID string, fn func(*models.Group) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		s.mu.RLock()
		doc, ok := s.groups[groupID]
		s.mu.RUnlock()
		if !ok {
			return storage.ErrNotFound
		}

		snapshot := doc.value.Clone()
		if err := fn(snapshot); err != nil {
			return err
		}

		s.mu.Lock()
		if s.groups[groupID].version == doc.version {
			s.groups[groupID] = versioned[*models.Group]{version: doc.version + 1, value: snapshot}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
	}
	return storage.ErrTooMuchContention
}

// AppendSessionRecord stores an immutable study-session history record.
func (s *Store) AppendSessionRecord(ctx context.Context, rec models.StudySessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	return nil
}

// RecentSessions returns the newest session records for a user, capped to
// limit entries.
func (s *Store) RecentSessions(ctx context.Context, uid string, limit int) ([]models.StudySessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.StudySessionRecord
	for _, rec := range s.records {
		if rec.UserID == uid {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddPairTime increments the per-(user, group) aggregate by the flushed
// seconds and number of closed sessions.
func (s *Store) AddPairTime(ctx context.Context, uid, groupID string, seconds, sessions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := uid + "_" + groupID
	stats, ok := s.pairs[key]
	if !ok {
		stats = &models.SessionStats{UserID: uid, GroupID: groupID}
		s.pairs[key] = stats
	}
	stats.TotalTime += seconds
	stats.SessionsCount += sessions
	return nil
}

// PairStats returns the aggregate for one (user, group) pair. A pair with
// no flushed time yet reads as all zeros.
func (s *Store) PairStats(ctx context.Context, uid, groupID string) (*models.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if stats, ok := s.pairs[uid+"_"+groupID]; ok {
		cp := *stats
		return &cp, nil
	}
	return &models.SessionStats{UserID: uid, GroupID: groupID}, nil
}

// GetInventory fetches a user's inventory, empty if never written.
func (s *Store) GetInventory(ctx context.Context, uid string) (*models.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if doc, ok := s.invs[uid]; ok {
		return doc.value.Clone(), nil
	}
	return &models.Inventory{UserID: uid}, nil
}

// UpdateInventory runs an optimistic transaction against a user's
// inventory document, creating an empty one if absent.
func (s *Store) UpdateInventory(ctx context.Context, uid string, fn func(*models.Inventory) error) error {
	s.mu.Lock()
	if _, ok := s.invs[uid]; !ok {
		s.invs[uid] = versioned[*models.Inventory]{version: 1, value: &models.Inventory{UserID: uid}}
	}
	s.mu.Unlock()

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		s.mu.RLock()
		doc := s.invs[uid]
		snapshot := doc.value.Clone()
		s.mu.RUnlock()

		if err := fn(snapshot); err != nil {
			return err
		}

		s.mu.Lock()
		if s.invs[uid].version == doc.version {
			s.invs[uid] = versioned[*models.Inventory]{version: doc.version + 1, value: snapshot}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
	}
	return storage.ErrTooMuchContention
}

// GetActiveEffects fetches a user's active-effects document, empty if never
// written.
func (s *Store) GetActiveEffects(ctx context.Context, uid string) (*models.ActiveEffects, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if doc, ok := s.effects[uid]; ok {
		return doc.value.Clone(), nil
	}
	return &models.ActiveEffects{UserID: uid}, nil
}

// UpdateActiveEffects runs an optimistic transaction against a user's
// active-effects document, creating an empty one if absent.
func (s *Store) UpdateActiveEffects(ctx context.Context, uid string, fn func(*models.ActiveEffects) error) error {
	s.mu.Lock()
	if _, ok := s.effects[uid]; !ok {
		s.effects[uid] = versioned[*models.ActiveEffects]{version: 1, value: &models.ActiveEffects{UserID: uid}}
	}
	s.mu.Unlock()

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		s.mu.RLock()
		doc := s.effects[uid]
		snapshot := doc.value.Clone()
		s.mu.RUnlock()

		if err := fn(snapshot); err != nil {
			return err
		}

		s.mu.Lock()
		if s.effects[uid].version == doc.version {
			s.effects[uid] = versioned[*models.ActiveEffects]{version: doc.version + 1, value: snapshot}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
	}
	return storage.ErrTooMuchContention
}
