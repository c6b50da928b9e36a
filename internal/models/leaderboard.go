package models

// LeaderboardEntry is one row of a group's standings, ordered by group
// points descending.
type LeaderboardEntry struct {
	UserID string `json:"user_id"`
	Points int    `json:"points"`
	Rank   int    `json:"rank"`
}
