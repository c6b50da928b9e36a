package storage

import (
	"context"

	"github.com/studycircle/studycircle/internal/models"
)

// Store is the full remote-store surface. The memory and postgres adapters
// both implement it; services consume narrower interfaces and the process
// wiring picks the backend.
type Store interface {
	EnsureUser(ctx context.Context, uid string) (*models.User, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
	AddUserPoints(ctx context.Context, uid string, delta int) error
	AddUserStudyTime(ctx context.Context, uid string, seconds int) error
	UpdateUser(ctx context.Context, uid string, fn func(*models.User) error) error

	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	UpdateGroup(ctx context.Context, groupID string, fn func(*models.Group) error) error

	AppendSessionRecord(ctx context.Context, rec models.StudySessionRecord) error
	RecentSessions(ctx context.Context, uid string, limit int) ([]models.StudySessionRecord, error)
	AddPairTime(ctx context.Context, uid, groupID string, seconds, sessions int) error
	PairStats(ctx context.Context, uid, groupID string) (*models.SessionStats, error)

	GetInventory(ctx context.Context, uid string) (*models.Inventory, error)
	UpdateInventory(ctx context.Context, uid string, fn func(*models.Inventory) error) error
	GetActiveEffects(ctx context.Context, uid string) (*models.ActiveEffects, error)
	UpdateActiveEffects(ctx context.Context, uid string, fn func(*models.ActiveEffects) error) error
}
