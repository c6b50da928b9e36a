// Package group implements the shared group ledger: membership, bans, and
// the per-member group-points map. Every mutation of the shared group
// document goes through the store's transactional read-modify-write
// primitive; concurrent writers (the creator managing members, each
// member's timer crediting points) serialize there rather than racing.
package group

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/models"
	"github.com/studycircle/studycircle/internal/storage"
)

// GroupStore defines what the app needs from the storage layer.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	UpdateGroup(ctx context.Context, groupID string, fn func(*models.Group) error) error
}

// Notifier pushes ledger changes onto the change feed so other members'
// clients see them without polling. May be nil.
type Notifier interface {
	GroupChanged(ctx context.Context, groupID, change, memberID string)
}

// App handles group ledger business logic.
type App struct {
	store    GroupStore
	notifier Notifier
	clock    clockwork.Clock
}

// NewApp creates a group App. notifier may be nil.
func NewApp(store GroupStore, notifier Notifier, clock clockwork.Clock) *App {
	return &App{store: store, notifier: notifier, clock: clock}
}

// CreateGroup creates a group with the creator as its first member.
func (a *App) CreateGroup(ctx context.Context, name, creator string) (*models.Group, error) {
	g := &models.Group{
		ID:         uuid.NewString(),
		Name:       name,
		Creator:    creator,
		Members:    []string{creator},
		UserPoints: map[string]int{creator: 0},
		CreatedAt:  a.clock.Now(),
	}
	if err := a.store.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	log.Info().Str("group_id", g.ID).Str("creator", creator).Msg("group created")
	return g, nil
}

// GetGroup fetches a group document.
func (a *App) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	g, err := a.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// JoinGroup adds uid as a member. Banned users may not rejoin until
// unbanned. Joining a group you are already in is a no-op.
func (a *App) JoinGroup(ctx context.Context, groupID, uid string) error {
	err := a.update(ctx, groupID, func(g *models.Group) error {
		if g.IsBanned(uid) {
			return ErrMemberBanned
		}
		if g.HasMember(uid) {
			return nil
		}
		g.Members = append(g.Members, uid)
		if g.UserPoints == nil {
			g.UserPoints = make(map[string]int)
		}
		g.UserPoints[uid] = 0
		return nil
	})
	if err != nil {
		return err
	}

	a.notify(ctx, groupID, "member_joined", uid)
	return nil
}

// RemoveMember removes memberID from the group along with their
// group-points entry. Creator only.
func (a *App) RemoveMember(ctx context.Context, groupID, actor, memberID string) error {
	err := a.update(ctx, groupID, func(g *models.Group) error {
		if actor != g.Creator {
			return ErrUnauthorized
		}
		if !g.HasMember(memberID) {
			return ErrNotMember
		}
		g.Members = removeString(g.Members, memberID)
		delete(g.UserPoints, memberID)
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("group_id", groupID).Str("member_id", memberID).Msg("member removed")
	a.notify(ctx, groupID, "member_removed", memberID)
	return nil
}

// ToggleBan bans memberID if they are not banned, otherwise unbans them.
// Banning zeroes the member's group points and appends a "ban" audit entry.
// Unbanning restores eligibility and appends an "unban" entry; forfeited
// points are not restored. Creator only.
func (a *App) ToggleBan(ctx context.Context, groupID, actor, memberID string) (models.BanAction, error) {
	var action models.BanAction
	err := a.update(ctx, groupID, func(g *models.Group) error {
		if actor != g.Creator {
			return ErrUnauthorized
		}

		entry := models.BanEntry{
			MemberID:  memberID,
			Actor:     actor,
			Timestamp: a.clock.Now(),
		}
		if g.IsBanned(memberID) {
			action = models.BanActionUnban
			g.BannedMembers = removeString(g.BannedMembers, memberID)
		} else {
			if !g.HasMember(memberID) {
				return ErrNotMember
			}
			action = models.BanActionBan
			g.BannedMembers = append(g.BannedMembers, memberID)
			if g.UserPoints == nil {
				g.UserPoints = make(map[string]int)
			}
			g.UserPoints[memberID] = 0 // banned time is forfeited
		}
		entry.Action = action
		g.BanHistory = append(g.BanHistory, entry)
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Info().
		Str("group_id", groupID).
		Str("member_id", memberID).
		Str("action", string(action)).
		Msg("ban toggled")
	a.notify(ctx, groupID, "member_"+string(action)+"ned", memberID)
	return action, nil
}

// AddGroupPoints credits earned points to a member's group-scoped balance.
// The membership and ban checks run inside the transaction: a removal or
// ban landing concurrently with a flush wins, and the credit is silently
// dropped. Dropping rather than erroring matters for the flush path, where
// a business-rule error would be retried as if it were transient and
// re-apply the writes that already landed.
func (a *App) AddGroupPoints(ctx context.Context, groupID, memberID string, delta int) error {
	if delta <= 0 {
		return nil
	}

	dropReason := ""
	err := a.update(ctx, groupID, func(g *models.Group) error {
		dropReason = ""
		if !g.HasMember(memberID) {
			dropReason = "not a member"
			return nil
		}
		if g.IsBanned(memberID) {
			dropReason = "banned"
			return nil
		}
		if g.UserPoints == nil {
			g.UserPoints = make(map[string]int)
		}
		g.UserPoints[memberID] += delta
		return nil
	})
	if err != nil {
		return err
	}

	if dropReason != "" {
		log.Debug().
			Str("group_id", groupID).
			Str("member_id", memberID).
			Str("reason", dropReason).
			Int("delta", delta).
			Msg("dropping group points credit")
		return nil
	}

	a.notify(ctx, groupID, "points", memberID)
	return nil
}

// Leaderboard returns the group standings ordered by group points
// descending, member id ascending on ties.
func (a *App) Leaderboard(ctx context.Context, groupID string) ([]models.LeaderboardEntry, error) {
	g, err := a.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	entries := make([]models.LeaderboardEntry, 0, len(g.UserPoints))
	for uid, pts := range g.UserPoints {
		entries = append(entries, models.LeaderboardEntry{UserID: uid, Points: pts})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (a *App) update(ctx context.Context, groupID string, fn func(*models.Group) error) error {
	err := a.store.UpdateGroup(ctx, groupID, fn)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrGroupNotFound
	}
	return err
}

func (a *App) notify(ctx context.Context, groupID, change, memberID string) {
	if a.notifier != nil {
		a.notifier.GroupChanged(ctx, groupID, change, memberID)
	}
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
