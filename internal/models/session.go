package models

import (
	"time"

	"github.com/google/uuid"
)

// StudySessionRecord is the immutable history entry written by every
// successful flush that earned points.
type StudySessionRecord struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	GroupID      string    `json:"group_id"`
	Duration     int       `json:"duration"` // seconds
	PointsEarned int       `json:"points_earned"`
	Timestamp    time.Time `json:"timestamp"`
}

// SessionStats is the persisted aggregate for one (user, group) pair.
type SessionStats struct {
	UserID        string `json:"user_id"`
	GroupID       string `json:"group_id"`
	TotalTime     int    `json:"total_time"` // seconds
	SessionsCount int    `json:"sessions_count"`
}
