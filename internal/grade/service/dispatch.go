package service

import (
	"context"
	"errors"

	"judgeflow/internal/grade/compare"
	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/sandbox"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sandbox statuses recorded on verdicts that never got an outcome.
const (
	sandboxStatusUnavailable = "Unavailable"
	sandboxStatusSkipped     = "Skipped"
)

var (
	errFirstCaseUnavailable = errors.New("sandbox unavailable on first test case")
	errCompilationFailed    = errors.New("compilation failed")
)

// execution is the result of dispatching every test case.
type execution struct {
	// verdicts always has one entry per test case unless sandboxDown is set.
	verdicts []model.TestVerdict
	// sandboxDown is set when the very first test case could not reach the sandbox.
	sandboxDown error
	// interrupted is the context error when grading was cancelled midway.
	interrupted error
}

func (s *GradeService) execute(ctx context.Context, problem *model.Problem, submission *model.Submission) execution {
	if s.parallelism > 1 && len(problem.TestCases) > 1 {
		return s.executeParallel(ctx, problem, submission)
	}
	return s.executeSequential(ctx, problem, submission)
}

// executeSequential runs test cases in declared order. A compilation error
// stops further sandbox calls and is copied to the remaining verdicts.
func (s *GradeService) executeSequential(ctx context.Context, problem *model.Problem, submission *model.Submission) execution {
	cases := problem.TestCases
	verdicts := make([]model.TestVerdict, 0, len(cases))
	for i, tc := range cases {
		if err := ctx.Err(); err != nil {
			return execution{verdicts: fillSkipped(verdicts, cases, "grading cancelled"), interrupted: err}
		}
		outcome, err := s.runCase(ctx, submission, tc)
		if err != nil {
			if i == 0 && appErr.Is(err, appErr.SandboxUnavailable) {
				return execution{sandboxDown: err}
			}
			verdicts = append(verdicts, errorVerdict(i, tc, err))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return execution{verdicts: fillSkipped(verdicts, cases, "grading cancelled"), interrupted: ctxErr}
			}
			continue
		}
		verdict := verdictFor(i, tc, outcome)
		verdicts = append(verdicts, verdict)
		if outcome.Status == sandbox.OutcomeCompilationError {
			return execution{verdicts: fillFailed(verdicts, cases, verdict)}
		}
	}
	return execution{verdicts: verdicts}
}

// executeParallel fans test cases out and reassembles verdicts by index.
// A compilation error cancels the remaining cases and every case inherits its diagnostic.
func (s *GradeService) executeParallel(ctx context.Context, problem *model.Problem, submission *model.Submission) execution {
	cases := problem.TestCases
	verdicts := make([]model.TestVerdict, len(cases))
	done := make([]bool, len(cases))
	var firstErr error
	compileFailed := -1

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, tc := range cases {
		i, tc := i, tc
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome, err := s.runCase(gctx, submission, tc)
			if err != nil {
				if i == 0 && appErr.Is(err, appErr.SandboxUnavailable) {
					firstErr = err
					return errFirstCaseUnavailable
				}
				verdicts[i] = errorVerdict(i, tc, err)
				done[i] = true
				return nil
			}
			verdicts[i] = verdictFor(i, tc, outcome)
			done[i] = true
			if outcome.Status == sandbox.OutcomeCompilationError {
				return errCompilationFailed
			}
			return nil
		})
	}
	if err := g.Wait(); errors.Is(err, errFirstCaseUnavailable) {
		return execution{sandboxDown: firstErr}
	}

	for i := range cases {
		if done[i] && verdicts[i].SandboxStatus == string(sandbox.OutcomeCompilationError) {
			compileFailed = i
			break
		}
	}
	if compileFailed >= 0 {
		failed := verdicts[compileFailed]
		for i := range cases {
			if verdicts[i].SandboxStatus != failed.SandboxStatus || !done[i] {
				verdicts[i] = copyFailure(i, cases[i], failed)
			}
		}
		return execution{verdicts: verdicts}
	}

	var interrupted error
	for i := range cases {
		if !done[i] {
			verdicts[i] = skippedVerdict(i, cases[i], "grading cancelled")
			interrupted = ctx.Err()
		}
	}
	if interrupted == nil && ctx.Err() != nil {
		interrupted = ctx.Err()
	}
	return execution{verdicts: verdicts, interrupted: interrupted}
}

func (s *GradeService) runCase(ctx context.Context, submission *model.Submission, tc model.TestCase) (*sandbox.Outcome, error) {
	outcome, err := s.sandbox.Execute(ctx, sandbox.ExecuteRequest{
		SourceCode: submission.SourceCode,
		Language:   submission.Language,
		Stdin:      tc.Input,
		Limits:     s.limits,
	})
	if err != nil {
		logger.Warn(ctx, "sandbox execution failed",
			zap.Int64("test_case_id", tc.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return outcome, nil
}

func verdictFor(index int, tc model.TestCase, outcome *sandbox.Outcome) model.TestVerdict {
	res := compare.CompareRun(
		compare.Run{OK: outcome.Succeeded(), Diagnostic: outcome.Diagnostic()},
		outcome.Stdout,
		tc.ExpectedOutput,
	)
	return model.TestVerdict{
		Index:              index,
		Passed:             res.Passed,
		Input:              tc.Input,
		ExpectedNormalized: res.ExpectedNormalized,
		ActualNormalized:   res.ActualNormalized,
		Error:              res.Error,
		SandboxStatus:      string(outcome.Status),
		TimeMs:             outcome.TimeMs,
		MemoryKB:           outcome.MemoryKB,
		Hidden:             tc.Hidden,
	}
}

func uncomparedVerdict(stdin string, outcome *sandbox.Outcome) model.TestVerdict {
	verdict := model.TestVerdict{
		Passed:           outcome.Succeeded(),
		Input:            stdin,
		ActualNormalized: compare.Normalize(outcome.Stdout),
		SandboxStatus:    string(outcome.Status),
		TimeMs:           outcome.TimeMs,
		MemoryKB:         outcome.MemoryKB,
	}
	if !verdict.Passed {
		verdict.Error = outcome.Diagnostic()
	}
	return verdict
}

func errorVerdict(index int, tc model.TestCase, err error) model.TestVerdict {
	status := sandboxStatusUnavailable
	if appErr.Is(err, appErr.Timeout) {
		status = string(sandbox.OutcomeTimeout)
	}
	return model.TestVerdict{
		Index:              index,
		Input:              tc.Input,
		ExpectedNormalized: compare.Normalize(tc.ExpectedOutput),
		Error:              err.Error(),
		SandboxStatus:      status,
		Hidden:             tc.Hidden,
	}
}

func skippedVerdict(index int, tc model.TestCase, reason string) model.TestVerdict {
	return model.TestVerdict{
		Index:              index,
		Input:              tc.Input,
		ExpectedNormalized: compare.Normalize(tc.ExpectedOutput),
		Error:              reason,
		SandboxStatus:      sandboxStatusSkipped,
		Hidden:             tc.Hidden,
	}
}

func fillSkipped(verdicts []model.TestVerdict, cases []model.TestCase, reason string) []model.TestVerdict {
	for i := len(verdicts); i < len(cases); i++ {
		verdicts = append(verdicts, skippedVerdict(i, cases[i], reason))
	}
	return verdicts
}

// fillFailed copies the failing verdict's diagnostic onto every remaining case.
func fillFailed(verdicts []model.TestVerdict, cases []model.TestCase, failed model.TestVerdict) []model.TestVerdict {
	for i := len(verdicts); i < len(cases); i++ {
		verdicts = append(verdicts, copyFailure(i, cases[i], failed))
	}
	return verdicts
}

func copyFailure(index int, tc model.TestCase, failed model.TestVerdict) model.TestVerdict {
	return model.TestVerdict{
		Index:              index,
		Input:              tc.Input,
		ExpectedNormalized: compare.Normalize(tc.ExpectedOutput),
		Error:              failed.Error,
		SandboxStatus:      failed.SandboxStatus,
		Hidden:             tc.Hidden,
	}
}

// overallStatus is Accepted iff every verdict passed, otherwise the status of
// the first failing verdict.
func overallStatus(verdicts []model.TestVerdict) model.SubmissionStatus {
	if len(verdicts) == 0 {
		return model.StatusRuntimeError
	}
	for _, v := range verdicts {
		if !v.Passed {
			return statusFor(v.SandboxStatus)
		}
	}
	return model.StatusAccepted
}

func statusFor(sandboxStatus string) model.SubmissionStatus {
	switch sandbox.OutcomeStatus(sandboxStatus) {
	case sandbox.OutcomeSuccess:
		return model.StatusWrongAnswer
	case sandbox.OutcomeCompilationError:
		return model.StatusCompilationError
	case sandbox.OutcomeTimeLimitExceeded, sandbox.OutcomeTimeout:
		return model.StatusTimeLimitExceeded
	default:
		return model.StatusRuntimeError
	}
}

func usage(verdicts []model.TestVerdict) (totalMs, peakKB int64) {
	for _, v := range verdicts {
		totalMs += v.TimeMs
		if v.MemoryKB > peakKB {
			peakKB = v.MemoryKB
		}
	}
	return totalMs, peakKB
}
