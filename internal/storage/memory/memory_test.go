package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/studycircle/studycircle/internal/models"
	"github.com/studycircle/studycircle/internal/storage"
)

func TestEnsureUserIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first, err := s.EnsureUser(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := s.AddUserPoints(ctx, "alice", 10); err != nil {
		t.Fatalf("AddUserPoints: %v", err)
	}

	again, err := s.EnsureUser(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if again.Points != 10 {
		t.Errorf("EnsureUser reset points: got %d, want 10", again.Points)
	}
	if !again.CreatedAt.Equal(first.CreatedAt) {
		t.Error("EnsureUser must not rewrite created_at")
	}
}

func TestBusinessErrorAbortsTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	errBroke := errors.New("insufficient funds")

	if _, err := s.EnsureUser(ctx, "bob"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := s.AddUserPoints(ctx, "bob", 5); err != nil {
		t.Fatalf("AddUserPoints: %v", err)
	}

	err := s.UpdateUser(ctx, "bob", func(u *models.User) error {
		u.Points -= 100
		return errBroke
	})
	if !errors.Is(err, errBroke) {
		t.Fatalf("UpdateUser error = %v, want business error", err)
	}

	u, err := s.GetUser(ctx, "bob")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Points != 5 {
		t.Errorf("aborted transaction mutated document: points = %d, want 5", u.Points)
	}
}

func TestConcurrentIncrementsDoNotLoseWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	const workers = 20
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := s.AddUserPoints(ctx, "carol", 1); err != nil {
					t.Errorf("AddUserPoints: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	u, err := s.GetUser(ctx, "carol")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Points != workers*perWorker {
		t.Errorf("points = %d, want %d", u.Points, workers*perWorker)
	}
}

func TestUpdateGroupNotFound(t *testing.T) {
	s := NewStore()
	err := s.UpdateGroup(context.Background(), "nope", func(g *models.Group) error { return nil })
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateGroupClosureSeesCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.CreateGroup(ctx, &models.Group{
		ID:         "g1",
		Creator:    "alice",
		Members:    []string{"alice"},
		UserPoints: map[string]int{"alice": 3},
	}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	// A failing closure's mutations must never leak into the store.
	boom := errors.New("boom")
	_ = s.UpdateGroup(ctx, "g1", func(g *models.Group) error {
		g.UserPoints["alice"] = 999
		g.Members = append(g.Members, "mallory")
		return boom
	})

	g, err := s.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	want := &models.Group{
		ID:         "g1",
		Creator:    "alice",
		Members:    []string{"alice"},
		UserPoints: map[string]int{"alice": 3},
		CreatedAt:  g.CreatedAt,
	}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("group mutated by aborted closure (-want +got):\n%s", diff)
	}
}

func TestRecentSessionsCapAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := models.StudySessionRecord{
			UserID:    "dave",
			GroupID:   "g1",
			Duration:  60 * (i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendSessionRecord(ctx, rec); err != nil {
			t.Fatalf("AppendSessionRecord: %v", err)
		}
	}

	recs, err := s.RecentSessions(ctx, "dave", 3)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp.After(recs[i-1].Timestamp) {
			t.Error("records not ordered newest first")
		}
	}
	if recs[0].Duration != 300 {
		t.Errorf("newest record duration = %d, want 300", recs[0].Duration)
	}
}

func TestPairStatsAccumulate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.AddPairTime(ctx, "erin", "g1", 90, 0); err != nil {
		t.Fatalf("AddPairTime: %v", err)
	}
	if err := s.AddPairTime(ctx, "erin", "g1", 30, 1); err != nil {
		t.Fatalf("AddPairTime: %v", err)
	}

	stats, err := s.PairStats(ctx, "erin", "g1")
	if err != nil {
		t.Fatalf("PairStats: %v", err)
	}
	if stats.TotalTime != 120 || stats.SessionsCount != 1 {
		t.Errorf("stats = %+v, want total 120 sessions 1", stats)
	}
}
