package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/studycircle/studycircle/internal/models"
)

// UserStore is what the flush path needs for account-level counters.
type UserStore interface {
	AddUserStudyTime(ctx context.Context, uid string, seconds int) error
	AddUserPoints(ctx context.Context, uid string, delta int) error
}

// RecordStore is what the flush path needs for per-pair aggregates and the
// immutable history.
type RecordStore interface {
	AddPairTime(ctx context.Context, uid, groupID string, seconds, sessions int) error
	AppendSessionRecord(ctx context.Context, rec models.StudySessionRecord) error
}

// GroupCreditor credits the group-scoped points balance. The ban check
// happens inside its transaction.
type GroupCreditor interface {
	AddGroupPoints(ctx context.Context, groupID, memberID string, delta int) error
}

// Syncer commits flush payloads to the remote ledger. The writes are
// atomic from the coordinator's perspective but not one remote
// transaction: each field increment is an additive delta, and a partially
// failed flush leaves the whole delta pending for the next trigger.
type Syncer struct {
	users   UserStore
	records RecordStore
	groups  GroupCreditor
}

// NewSyncer creates the flush service.
func NewSyncer(users UserStore, records RecordStore, groups GroupCreditor) *Syncer {
	return &Syncer{users: users, records: records, groups: groups}
}

// Flush commits one delta payload: lifetime time, pair aggregate, history
// record (only when points were earned), global points, and group-scoped
// points. Each write is attempted even when a previous one fails; the
// combined error tells the coordinator to keep the delta pending.
func (s *Syncer) Flush(ctx context.Context, f Flush) error {
	var errs []error

	if f.Seconds > 0 {
		if err := s.users.AddUserStudyTime(ctx, f.UserID, f.Seconds); err != nil {
			errs = append(errs, fmt.Errorf("user study time: %w", err))
		}
	}
	if f.Seconds > 0 || f.ClosedSessions > 0 {
		if err := s.records.AddPairTime(ctx, f.UserID, f.GroupID, f.Seconds, f.ClosedSessions); err != nil {
			errs = append(errs, fmt.Errorf("pair aggregate: %w", err))
		}
	}
	if f.Points > 0 {
		rec := models.StudySessionRecord{
			ID:           uuid.New(),
			UserID:       f.UserID,
			GroupID:      f.GroupID,
			Duration:     f.Seconds,
			PointsEarned: f.Points,
			Timestamp:    f.At,
		}
		if err := s.records.AppendSessionRecord(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("session record: %w", err))
		}
		if err := s.users.AddUserPoints(ctx, f.UserID, f.Points); err != nil {
			errs = append(errs, fmt.Errorf("user points: %w", err))
		}
		if err := s.groups.AddGroupPoints(ctx, f.GroupID, f.UserID, f.Points); err != nil {
			errs = append(errs, fmt.Errorf("group points: %w", err))
		}
	}

	return errors.Join(errs...)
}
