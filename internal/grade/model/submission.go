package model

import "time"

// SubmissionStatus is the lifecycle state of one grading attempt.
type SubmissionStatus string

const (
	StatusPending           SubmissionStatus = "Pending"
	StatusProcessing        SubmissionStatus = "Processing"
	StatusAccepted          SubmissionStatus = "Accepted"
	StatusWrongAnswer       SubmissionStatus = "WrongAnswer"
	StatusRuntimeError      SubmissionStatus = "RuntimeError"
	StatusTimeLimitExceeded SubmissionStatus = "TimeLimitExceeded"
	StatusCompilationError  SubmissionStatus = "CompilationError"
)

// IsTerminal reports whether no further transition is allowed.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusRuntimeError, StatusTimeLimitExceeded, StatusCompilationError:
		return true
	default:
		return false
	}
}

// TestVerdict is the comparison outcome for one test case.
type TestVerdict struct {
	Index              int    `json:"index"`
	Passed             bool   `json:"passed"`
	Input              string `json:"input"`
	ExpectedNormalized string `json:"expectedOutput"`
	ActualNormalized   string `json:"actualOutput"`
	Error              string `json:"error,omitempty"`
	SandboxStatus      string `json:"sandboxStatus"`
	TimeMs             int64  `json:"timeMs"`
	MemoryKB           int64  `json:"memoryKb"`
	Hidden             bool   `json:"hidden,omitempty"`
}

// Masked hides the data of hidden test cases from the caller.
func (v TestVerdict) Masked() TestVerdict {
	if !v.Hidden {
		return v
	}
	v.Input = ""
	v.ExpectedNormalized = ""
	v.ActualNormalized = ""
	return v
}

// Submission is one grading attempt. Status moves to a terminal value exactly once.
type Submission struct {
	ID              string           `json:"id"`
	UserID          int64            `json:"user_id"`
	ProblemID       int64            `json:"problem_id"`
	SourceCode      string           `json:"source_code"`
	Language        string           `json:"language"`
	Status          SubmissionStatus `json:"status"`
	Verdicts        []TestVerdict    `json:"verdicts"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	PeakMemoryKB    int64            `json:"peak_memory_kb"`
	Evaluation      *Evaluation      `json:"evaluation,omitempty"`
	PointsAwarded   *int             `json:"points_awarded,omitempty"`
	Degraded        bool             `json:"degraded"`
	Message         string           `json:"message,omitempty"`
	SourceKey       string           `json:"source_key,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
}
