package sandbox

import "strings"

// OutcomeStatus classifies a terminal sandbox result.
type OutcomeStatus string

const (
	OutcomeSuccess           OutcomeStatus = "Success"
	OutcomeCompilationError  OutcomeStatus = "CompilationError"
	OutcomeRuntimeError      OutcomeStatus = "RuntimeError"
	OutcomeTimeLimitExceeded OutcomeStatus = "TimeLimitExceeded"
	OutcomeInternalError     OutcomeStatus = "InternalError"
	// OutcomeTimeout means polling gave up before the sandbox finished.
	OutcomeTimeout OutcomeStatus = "Timeout"
)

// Judge0 status ids.
const (
	statusInQueue     = 1
	statusProcessing  = 2
	statusAccepted    = 3
	statusWrongAnswer = 4
	statusTLE         = 5
	statusCompileErr  = 6
	statusRuntimeMin  = 7
	statusRuntimeMax  = 12
)

// Outcome is the result of one execution.
type Outcome struct {
	Token         string        `json:"token"`
	Status        OutcomeStatus `json:"status"`
	StatusID      int           `json:"status_id"`
	Description   string        `json:"description"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	CompileOutput string        `json:"compile_output"`
	TimeMs        int64         `json:"time_ms"`
	MemoryKB      int64         `json:"memory_kb"`
	PollAttempts  int           `json:"poll_attempts"`
}

// Succeeded reports whether the program ran to completion.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == OutcomeSuccess
}

// Diagnostic returns the most useful error text for a failed outcome.
func (o *Outcome) Diagnostic() string {
	if o == nil {
		return "no execution outcome"
	}
	for _, text := range []string{o.CompileOutput, o.Stderr} {
		if s := strings.TrimSpace(text); s != "" {
			return s
		}
	}
	if o.Description != "" {
		return o.Description
	}
	return string(o.Status)
}

func isPending(statusID int) bool {
	return statusID == statusInQueue || statusID == statusProcessing
}

// classify maps a terminal Judge0 status id. Wrong Answer only appears when an
// expected output is sent, which this client never does, so it counts as a clean run.
func classify(statusID int) OutcomeStatus {
	switch {
	case statusID == statusAccepted, statusID == statusWrongAnswer:
		return OutcomeSuccess
	case statusID == statusTLE:
		return OutcomeTimeLimitExceeded
	case statusID == statusCompileErr:
		return OutcomeCompilationError
	case statusID >= statusRuntimeMin && statusID <= statusRuntimeMax:
		return OutcomeRuntimeError
	default:
		return OutcomeInternalError
	}
}
