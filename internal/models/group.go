package models

import (
	"slices"
	"time"
)

// BanAction labels an entry in a group's ban audit log.
type BanAction string

const (
	BanActionBan   BanAction = "ban"
	BanActionUnban BanAction = "unban"
)

// BanEntry is one append-only audit record of a ban or unban.
type BanEntry struct {
	MemberID  string    `json:"member_id"`
	Actor     string    `json:"actor"`
	Action    BanAction `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Group is the shared ledger document for one study group: membership, ban
// state, and the per-member group-scoped points map. Group points are
// distinct from a member's global spendable balance.
type Group struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Creator       string         `json:"creator"`
	Members       []string       `json:"members"`
	BannedMembers []string       `json:"banned_members"`
	UserPoints    map[string]int `json:"user_points"`
	BanHistory    []BanEntry     `json:"ban_history"`
	CreatedAt     time.Time      `json:"created_at"`
}

// HasMember reports whether uid is a current member.
func (g *Group) HasMember(uid string) bool {
	return slices.Contains(g.Members, uid)
}

// IsBanned reports whether uid is on the banned list.
func (g *Group) IsBanned(uid string) bool {
	return slices.Contains(g.BannedMembers, uid)
}

// Clone returns a deep copy of the group document.
func (g *Group) Clone() *Group {
	cp := *g
	cp.Members = slices.Clone(g.Members)
	cp.BannedMembers = slices.Clone(g.BannedMembers)
	cp.BanHistory = slices.Clone(g.BanHistory)
	if g.UserPoints != nil {
		cp.UserPoints = make(map[string]int, len(g.UserPoints))
		for k, v := range g.UserPoints {
			cp.UserPoints[k] = v
		}
	}
	return &cp
}
