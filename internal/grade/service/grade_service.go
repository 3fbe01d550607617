package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/grade/evaluator"
	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/repository"
	"judgeflow/internal/grade/sandbox"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultFinalizeTimeout = 10 * time.Second
	defaultIdempotencyTTL  = 10 * time.Minute

	msgSandboxDegraded  = "code execution service unavailable; result is based on code review only"
	msgGradingCancelled = "grading interrupted before all test cases finished"
	msgAwardFailed      = "solution accepted but points could not be recorded"
)

// Sandbox runs one program against one input.
type Sandbox interface {
	Supports(language string) bool
	Execute(ctx context.Context, req sandbox.ExecuteRequest) (*sandbox.Outcome, error)
}

// Evaluator produces a qualitative review of a solution.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluator.Request) (*model.Evaluation, error)
}

// Awarder credits an accepted solution at most once.
type Awarder interface {
	Award(ctx context.Context, userID, problemID int64, difficulty model.Difficulty, evalScore *float64) (int, error)
}

// ProgressReader answers solved-state queries.
type ProgressReader interface {
	IsSolved(ctx context.Context, userID, problemID int64) (bool, error)
	GetProgress(ctx context.Context, userID int64) (*model.UserProgress, error)
}

// SourceArchiver stores a copy of the submitted source.
type SourceArchiver interface {
	Save(ctx context.Context, submissionID, source string) (string, error)
}

// Recorder receives grading metrics.
type Recorder interface {
	RecordGrade(status model.SubmissionStatus, degraded bool, elapsed time.Duration)
	RecordEvaluation(outcome string)
	RecordAward(points int)
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration
	Cache   time.Duration
	MQ      time.Duration
	Storage time.Duration
}

// Config holds grade service dependencies and settings.
type Config struct {
	Problems    repository.ProblemRepository
	Submissions repository.SubmissionRepository
	Progress    ProgressReader
	Awarder     Awarder
	Sandbox     Sandbox
	Evaluator   Evaluator
	// Optional collaborators.
	Events   repository.EventPublisher
	Archive  SourceArchiver
	Cache    cache.Cache
	Recorder Recorder

	Limits          sandbox.Limits
	Parallelism     int
	GradeTimeout    time.Duration
	FinalizeTimeout time.Duration
	MaxCodeBytes    int
	IdempotencyTTL  time.Duration
	Timeouts        TimeoutConfig
}

// GradeService drives grading attempts end to end.
type GradeService struct {
	problems    repository.ProblemRepository
	submissions repository.SubmissionRepository
	progress    ProgressReader
	awarder     Awarder
	sandbox     Sandbox
	evaluator   Evaluator
	events      repository.EventPublisher
	archive     SourceArchiver
	cache       cache.Cache
	recorder    Recorder

	limits          sandbox.Limits
	parallelism     int
	gradeTimeout    time.Duration
	finalizeTimeout time.Duration
	maxCodeBytes    int
	idempotencyTTL  time.Duration
	timeouts        TimeoutConfig
	now             func() time.Time
}

// GradeInput describes one graded submission.
type GradeInput struct {
	UserID         int64
	ProblemID      int64
	SourceCode     string
	Language       string
	IdempotencyKey string
}

// RunInput describes an interactive run. Stdin overrides the first test case input.
type RunInput struct {
	ProblemID  int64
	SourceCode string
	Language   string
	Stdin      *string
}

// NewGradeService creates a new grade service.
func NewGradeService(cfg Config) (*GradeService, error) {
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Progress == nil {
		return nil, fmt.Errorf("progress reader is required")
	}
	if cfg.Awarder == nil {
		return nil, fmt.Errorf("awarder is required")
	}
	if cfg.Sandbox == nil {
		return nil, fmt.Errorf("sandbox is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &GradeService{
		problems:        cfg.Problems,
		submissions:     cfg.Submissions,
		progress:        cfg.Progress,
		awarder:         cfg.Awarder,
		sandbox:         cfg.Sandbox,
		evaluator:       cfg.Evaluator,
		events:          cfg.Events,
		archive:         cfg.Archive,
		cache:           cfg.Cache,
		recorder:        cfg.Recorder,
		limits:          cfg.Limits,
		parallelism:     cfg.Parallelism,
		gradeTimeout:    cfg.GradeTimeout,
		finalizeTimeout: cfg.FinalizeTimeout,
		maxCodeBytes:    cfg.MaxCodeBytes,
		idempotencyTTL:  cfg.IdempotencyTTL,
		timeouts:        cfg.Timeouts,
		now:             time.Now,
	}, nil
}

// Grade runs one grading attempt. An already solved problem yields an
// AlreadySolved error without touching the sandbox. Only validation, lookup
// and persistence failures are returned as errors; every other condition is
// reported inside the result.
func (s *GradeService) Grade(ctx context.Context, input GradeInput) (*model.SubmissionResult, error) {
	if input.UserID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if err := s.validateCode(input.SourceCode, input.Language); err != nil {
		return nil, err
	}
	problem, err := s.loadProblem(ctx, input.ProblemID)
	if err != nil {
		return nil, err
	}

	// A retried request replays its earlier result before the solved guard runs.
	acquired, existingID, err := s.acquireIdempotency(ctx, input.UserID, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !acquired && existingID != "" {
		return s.replay(ctx, existingID)
	}

	solved, err := s.isSolved(ctx, input.UserID, input.ProblemID)
	if err != nil {
		s.releaseIdempotency(ctx, input.UserID, input.IdempotencyKey, acquired)
		return nil, err
	}
	if solved {
		s.releaseIdempotency(ctx, input.UserID, input.IdempotencyKey, acquired)
		return nil, appErr.New(appErr.AlreadySolved).WithMessage("problem already solved")
	}

	start := s.now()
	submission := &model.Submission{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		ProblemID:  input.ProblemID,
		SourceCode: input.SourceCode,
		Language:   input.Language,
		Status:     model.StatusProcessing,
		CreatedAt:  start,
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, submission.ID)
	submission.SourceKey = s.archiveSource(ctx, submission)
	if err := s.createSubmission(ctx, submission); err != nil {
		s.releaseIdempotency(ctx, input.UserID, input.IdempotencyKey, acquired)
		return nil, err
	}

	gradeCtx := withTimeout(ctx, s.gradeTimeout)
	defer gradeCtx.cancel()
	gradeErr := s.grade(gradeCtx.ctx, problem, submission)

	// Persistence must outlive the caller's deadline so no submission stays Processing.
	persistCtx := withTimeout(context.WithoutCancel(ctx), s.finalizeTimeout)
	defer persistCtx.cancel()

	awardErr := s.award(persistCtx.ctx, problem, submission)
	if err := s.finalize(persistCtx.ctx, submission); err != nil {
		s.releaseIdempotency(persistCtx.ctx, input.UserID, input.IdempotencyKey, acquired)
		return nil, err
	}
	s.finalizeIdempotency(persistCtx.ctx, input.UserID, input.IdempotencyKey, submission.ID, acquired)
	s.publish(persistCtx.ctx, submission)
	s.recorder.RecordGrade(submission.Status, submission.Degraded, s.now().Sub(start))

	logger.Info(ctx, "submission graded",
		zap.Int64("problem_id", submission.ProblemID),
		zap.String("status", string(submission.Status)),
		zap.Bool("degraded", submission.Degraded),
	)

	if awardErr != nil {
		return nil, awardErr
	}
	if gradeErr != nil {
		return nil, gradeErr
	}
	return s.buildResult(submission), nil
}

// grade executes the test cases, evaluates the solution and fills submission.
// It returns an error only when the sandbox is down and the fallback review failed too.
func (s *GradeService) grade(ctx context.Context, problem *model.Problem, submission *model.Submission) error {
	exec := s.execute(ctx, problem, submission)
	if exec.sandboxDown != nil {
		return s.fallback(ctx, problem, submission, exec.sandboxDown)
	}

	submission.Verdicts = exec.verdicts
	submission.Status = overallStatus(exec.verdicts)
	submission.ExecutionTimeMs, submission.PeakMemoryKB = usage(exec.verdicts)
	if exec.interrupted != nil {
		submission.Status = model.StatusRuntimeError
		submission.Message = msgGradingCancelled
		logger.Warn(ctx, "grading interrupted",
			zap.Error(exec.interrupted),
		)
		return nil
	}

	submission.Evaluation = s.evaluate(ctx, problem, submission, exec.verdicts)
	return nil
}

func (s *GradeService) fallback(ctx context.Context, problem *model.Problem, submission *model.Submission, cause error) error {
	logger.Warn(ctx, "sandbox unavailable, falling back to code review",
		zap.Error(cause),
	)
	submission.Status = model.StatusRuntimeError
	submission.Verdicts = []model.TestVerdict{}
	submission.Degraded = true
	submission.Message = msgSandboxDegraded
	submission.Evaluation = s.evaluate(ctx, problem, submission, nil)
	if submission.Evaluation == nil {
		return appErr.ServiceError(appErr.SandboxUnavailable, "sandbox", cause)
	}
	return nil
}

func (s *GradeService) evaluate(ctx context.Context, problem *model.Problem, submission *model.Submission, verdicts []model.TestVerdict) *model.Evaluation {
	if ctx.Err() != nil {
		s.recorder.RecordEvaluation("skipped")
		return nil
	}
	eval, err := s.evaluator.Evaluate(ctx, evaluator.Request{
		Statement:  problemStatement(problem),
		Language:   submission.Language,
		SourceCode: submission.SourceCode,
		Verdicts:   verdicts,
	})
	if err != nil {
		outcome := "unavailable"
		if appErr.Is(err, appErr.EvaluationParseFailed) {
			outcome = "parse_failed"
		}
		s.recorder.RecordEvaluation(outcome)
		logger.Warn(ctx, "evaluation unavailable",
			zap.String("reason", outcome),
			zap.Error(err),
		)
		return nil
	}
	s.recorder.RecordEvaluation("ok")
	return eval
}

func (s *GradeService) award(ctx context.Context, problem *model.Problem, submission *model.Submission) error {
	if submission.Status != model.StatusAccepted {
		return nil
	}
	var evalScore *float64
	if submission.Evaluation != nil {
		score := submission.Evaluation.Score
		evalScore = &score
	}
	points, err := s.awarder.Award(ctx, submission.UserID, submission.ProblemID, problem.Difficulty, evalScore)
	if err != nil {
		logger.Error(ctx, "award points failed",
			zap.Error(err),
		)
		submission.Message = msgAwardFailed
		return err
	}
	submission.PointsAwarded = &points
	s.recorder.RecordAward(points)
	return nil
}

// Run executes the first test case without persisting anything.
func (s *GradeService) Run(ctx context.Context, input RunInput) (*model.RunResult, error) {
	if err := s.validateCode(input.SourceCode, input.Language); err != nil {
		return nil, err
	}
	problem, err := s.loadProblem(ctx, input.ProblemID)
	if err != nil {
		return nil, err
	}
	tc := problem.TestCases[0]
	stdin := tc.Input
	compared := input.Stdin == nil
	if !compared {
		stdin = *input.Stdin
	}

	gradeCtx := withTimeout(ctx, s.gradeTimeout)
	defer gradeCtx.cancel()
	outcome, err := s.sandbox.Execute(gradeCtx.ctx, sandbox.ExecuteRequest{
		SourceCode: input.SourceCode,
		Language:   input.Language,
		Stdin:      stdin,
		Limits:     s.limits,
	})
	if err != nil {
		return nil, err
	}

	result := &model.RunResult{
		Stdout:   outcome.Stdout,
		Stderr:   outcome.Stderr,
		Compared: compared,
	}
	if compared {
		result.Verdict = verdictFor(0, tc, outcome).Masked()
		if tc.Hidden {
			result.Stdout = ""
		}
		return result, nil
	}
	result.Verdict = uncomparedVerdict(stdin, outcome)
	return result, nil
}

// GetSubmission returns the caller view of a stored submission.
func (s *GradeService) GetSubmission(ctx context.Context, submissionID string) (*model.SubmissionView, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	solved := submission.Status == model.StatusAccepted
	if !solved {
		solved, err = s.isSolved(ctx, submission.UserID, submission.ProblemID)
		if err != nil {
			logger.Warn(ctx, "solved state lookup failed", zap.Error(err))
			solved = false
		}
	}
	view := model.NewSubmissionView(submission, solved)
	return &view, nil
}

// GetProgress returns the user's score and solved count.
func (s *GradeService) GetProgress(ctx context.Context, userID int64) (*model.UserProgress, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	progress, err := s.progress.GetProgress(ctxDB.ctx, userID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get user progress failed")
	}
	return progress, nil
}

func (s *GradeService) replay(ctx context.Context, submissionID string) (*model.SubmissionResult, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !submission.Status.IsTerminal() {
		return nil, appErr.New(appErr.SubmissionInProgress).WithMessage("submission is still being graded")
	}
	logger.Debug(ctx, "replaying graded submission", zap.String("submission_id", submissionID))
	return s.buildResult(submission), nil
}

func (s *GradeService) buildResult(submission *model.Submission) *model.SubmissionResult {
	return &model.SubmissionResult{
		Success:    true,
		Submission: model.NewSubmissionView(submission, submission.Status == model.StatusAccepted),
		Message:    submission.Message,
		Degraded:   submission.Degraded,
	}
}

func (s *GradeService) validateCode(sourceCode, language string) error {
	if strings.TrimSpace(sourceCode) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if strings.TrimSpace(language) == "" {
		return appErr.ValidationError("language", "required")
	}
	if s.maxCodeBytes > 0 && len(sourceCode) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	if !s.sandbox.Supports(language) {
		return appErr.New(appErr.LanguageNotSupported).
			WithMessage(fmt.Sprintf("language %q is not supported", language)).
			WithDetail("language", language)
	}
	return nil
}

func (s *GradeService) loadProblem(ctx context.Context, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	problem, err := s.problems.GetByID(ctxDB.ctx, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, appErr.New(appErr.ProblemNotFound).WithMessage("problem not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	if !problem.Gradable() {
		return nil, appErr.New(appErr.ProblemNotFound).WithMessage("problem has no test cases")
	}
	return problem, nil
}

func (s *GradeService) isSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	solved, err := s.progress.IsSolved(ctxDB.ctx, userID, problemID)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "check solved state failed")
	}
	return solved, nil
}

func (s *GradeService) getSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissions.GetByID(ctxDB.ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return submission, nil
}

func (s *GradeService) createSubmission(ctx context.Context, submission *model.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissions.Create(ctxDB.ctx, submission); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "create submission failed")
	}
	return nil
}

func (s *GradeService) finalize(ctx context.Context, submission *model.Submission) error {
	finishedAt := s.now()
	submission.FinishedAt = &finishedAt
	err := s.submissions.Finalize(ctx, submission)
	if errors.Is(err, repository.ErrSubmissionFinalized) {
		logger.Warn(ctx, "submission already finalized")
		return nil
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize submission failed")
	}
	return nil
}

func (s *GradeService) archiveSource(ctx context.Context, submission *model.Submission) string {
	if s.archive == nil {
		return ""
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	key, err := s.archive.Save(ctxStorage.ctx, submission.ID, submission.SourceCode)
	if err != nil {
		logger.Warn(ctx, "archive source failed",
			zap.Error(err),
		)
		return ""
	}
	return key
}

func (s *GradeService) publish(ctx context.Context, submission *model.Submission) {
	if s.events == nil {
		return
	}
	event := model.SubmissionEvent{
		Type:         model.EventSubmissionFinalized,
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		ProblemID:    submission.ProblemID,
		Status:       submission.Status,
		Degraded:     submission.Degraded,
	}
	if submission.PointsAwarded != nil {
		event.PointsAwarded = *submission.PointsAwarded
	}
	if submission.FinishedAt != nil {
		event.FinishedAt = *submission.FinishedAt
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.events.PublishFinalized(ctxMQ.ctx, event); err != nil {
		logger.Warn(ctx, "publish submission event failed",
			zap.Error(err),
		)
	}
}

func problemStatement(problem *model.Problem) string {
	if problem.Title == "" {
		return problem.Statement
	}
	return problem.Title + "\n\n" + problem.Statement
}

type nopRecorder struct{}

func (nopRecorder) RecordGrade(model.SubmissionStatus, bool, time.Duration) {}
func (nopRecorder) RecordEvaluation(string)                                {}
func (nopRecorder) RecordAward(int)                                         {}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
