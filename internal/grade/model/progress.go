package model

import "time"

// UserProgress is the slice of the user record touched by awards.
type UserProgress struct {
	UserID         int64     `json:"user_id"`
	Score          int64     `json:"score"`
	SolvedCount    int64     `json:"solved_count"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
