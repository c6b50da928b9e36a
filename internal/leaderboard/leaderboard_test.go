package leaderboard

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/studycircle/studycircle/internal/models"
)

type fakeStandings struct {
	entries []models.LeaderboardEntry
	err     error
	calls   int
}

func (f *fakeStandings) Leaderboard(ctx context.Context, groupID string) ([]models.LeaderboardEntry, error) {
	f.calls++
	return f.entries, f.err
}

func TestTopWithoutCacheHitsSource(t *testing.T) {
	want := []models.LeaderboardEntry{
		{UserID: "alice", Points: 10, Rank: 1},
		{UserID: "bob", Points: 4, Rank: 2},
	}
	src := &fakeStandings{entries: want}
	svc := NewService(src, nil, 0)

	got, err := svc.Top(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("standings mismatch (-want +got):\n%s", diff)
	}

	// With no cache every read recomputes.
	if _, err := svc.Top(context.Background(), "g1"); err != nil {
		t.Fatalf("Top: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
}

func TestTopPropagatesSourceError(t *testing.T) {
	src := &fakeStandings{err: errors.New("group missing")}
	svc := NewService(src, nil, 0)

	if _, err := svc.Top(context.Background(), "g1"); err == nil {
		t.Fatal("expected error from source")
	}
}

func TestInvalidateWithoutCacheIsNoop(t *testing.T) {
	svc := NewService(&fakeStandings{}, nil, 0)
	svc.Invalidate(context.Background(), "g1")
}
