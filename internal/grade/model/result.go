package model

// SubmissionView is the caller-facing projection of a finalized submission.
type SubmissionView struct {
	ID            string           `json:"id"`
	Status        SubmissionStatus `json:"status"`
	TestResults   []TestVerdict    `json:"testResults"`
	Evaluation    *Evaluation      `json:"evaluation,omitempty"`
	ExecutionTime int64            `json:"executionTime"`
	Memory        int64            `json:"memory"`
	IsSolved      bool             `json:"isSolved"`
	PointsEarned  int              `json:"pointsEarned"`
}

// SubmissionResult is returned by a completed grading attempt.
type SubmissionResult struct {
	Success    bool           `json:"success"`
	Submission SubmissionView `json:"submission"`
	Message    string         `json:"message,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"`
}

// GuardResult is returned instead of a submission when a guard stops grading.
type GuardResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	AlreadySolved bool   `json:"alreadySolved,omitempty"`
}

// NewSubmissionView builds the caller view, masking hidden test data.
func NewSubmissionView(s *Submission, isSolved bool) SubmissionView {
	view := SubmissionView{
		ID:            s.ID,
		Status:        s.Status,
		TestResults:   make([]TestVerdict, 0, len(s.Verdicts)),
		Evaluation:    s.Evaluation,
		ExecutionTime: s.ExecutionTimeMs,
		Memory:        s.PeakMemoryKB,
		IsSolved:      isSolved,
	}
	for _, v := range s.Verdicts {
		view.TestResults = append(view.TestResults, v.Masked())
	}
	if s.PointsAwarded != nil {
		view.PointsEarned = *s.PointsAwarded
	}
	return view
}

// RunResult is the outcome of an interactive single-sample run.
type RunResult struct {
	Verdict  TestVerdict `json:"verdict"`
	Stdout   string      `json:"stdout"`
	Stderr   string      `json:"stderr,omitempty"`
	Compared bool        `json:"compared"`
}
