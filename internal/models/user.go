package models

import "time"

// User holds the account-level counters tracked by the engine: the global
// spendable points balance and the lifetime study time across all groups.
type User struct {
	UID            string    `json:"uid"`
	Points         int       `json:"points"`
	TotalStudyTime int       `json:"total_study_time"` // seconds
	CreatedAt      time.Time `json:"created_at"`
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	cp := *u
	return &cp
}
