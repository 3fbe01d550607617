package model

import "time"

// EventSubmissionFinalized is emitted once a submission reaches a terminal status.
const EventSubmissionFinalized = "submission.finalized"

// SubmissionEvent is the payload published after finalization.
type SubmissionEvent struct {
	Type          string           `json:"type"`
	SubmissionID  string           `json:"submission_id"`
	UserID        int64            `json:"user_id"`
	ProblemID     int64            `json:"problem_id"`
	Status        SubmissionStatus `json:"status"`
	PointsAwarded int              `json:"points_awarded"`
	Degraded      bool             `json:"degraded"`
	FinishedAt    time.Time        `json:"finished_at"`
}
