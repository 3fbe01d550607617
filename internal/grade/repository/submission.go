package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/grade/model"
)

const (
	defaultSubmissionCacheTTL = 30 * time.Minute
	submissionCacheKeyPrefix  = "grade:submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionFinalized is returned when a terminal status is written twice.
	ErrSubmissionFinalized = errors.New("submission already finalized")
)

// SubmissionRepository persists grading attempts.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	Finalize(ctx context.Context, submission *model.Submission) error
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository.
// Only terminal submissions are cached since they never change.
type MySQLSubmissionRepository struct {
	db    db.Provider
	cache cache.Cache
	ttl   time.Duration
}

// NewSubmissionRepository creates a submission repository. cacheClient may be nil.
func NewSubmissionRepository(provider db.Provider, cacheClient cache.Cache, ttl time.Duration) *MySQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	return &MySQLSubmissionRepository{db: provider, cache: cacheClient, ttl: ttl}
}

// Create inserts a submission in its initial status.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if submission == nil || submission.ID == "" {
		return fmt.Errorf("submission id is required")
	}
	database, err := db.CurrentDatabase(r.db)
	if err != nil {
		return err
	}
	status := submission.Status
	if status == "" {
		status = model.StatusPending
	}
	createdAt := submission.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = database.Exec(ctx,
		`INSERT INTO grade_submissions
			(submission_id, user_id, problem_id, language, source_code, source_key, status, degraded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submission.ID,
		submission.UserID,
		submission.ProblemID,
		submission.Language,
		submission.SourceCode,
		submission.SourceKey,
		string(status),
		submission.Degraded,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission failed: %w", err)
	}
	return nil
}

// Finalize writes the terminal status and results. A submission that is already
// terminal is left untouched and ErrSubmissionFinalized is returned.
func (r *MySQLSubmissionRepository) Finalize(ctx context.Context, submission *model.Submission) error {
	if submission == nil || submission.ID == "" {
		return fmt.Errorf("submission id is required")
	}
	if !submission.Status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", submission.Status)
	}
	database, err := db.CurrentDatabase(r.db)
	if err != nil {
		return err
	}

	verdicts, err := json.Marshal(submission.Verdicts)
	if err != nil {
		return fmt.Errorf("marshal verdicts failed: %w", err)
	}
	var evaluation sql.NullString
	if submission.Evaluation != nil {
		data, err := json.Marshal(submission.Evaluation)
		if err != nil {
			return fmt.Errorf("marshal evaluation failed: %w", err)
		}
		evaluation = sql.NullString{String: string(data), Valid: true}
	}
	var points sql.NullInt64
	if submission.PointsAwarded != nil {
		points = sql.NullInt64{Int64: int64(*submission.PointsAwarded), Valid: true}
	}
	finishedAt := time.Now()
	if submission.FinishedAt != nil {
		finishedAt = *submission.FinishedAt
	}

	result, err := database.Exec(ctx,
		`UPDATE grade_submissions
		SET status = ?, verdicts = ?, execution_time_ms = ?, peak_memory_kb = ?, evaluation = ?,
			points_awarded = ?, degraded = ?, message = ?, finished_at = ?
		WHERE submission_id = ? AND status IN (?, ?)`,
		string(submission.Status),
		string(verdicts),
		submission.ExecutionTimeMs,
		submission.PeakMemoryKB,
		evaluation,
		points,
		submission.Degraded,
		submission.Message,
		finishedAt,
		submission.ID,
		string(model.StatusPending),
		string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("finalize submission failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize submission failed: %w", err)
	}
	if affected == 0 {
		return ErrSubmissionFinalized
	}
	submission.FinishedAt = &finishedAt
	if r.cache != nil {
		_ = r.cache.Del(ctx, submissionCacheKeyPrefix+submission.ID)
	}
	return nil
}

// GetByID returns ErrSubmissionNotFound when the submission does not exist.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, ErrSubmissionNotFound
	}
	key := submissionCacheKeyPrefix + submissionID
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, key); err == nil && cached != "" {
			var submission model.Submission
			if err := json.Unmarshal([]byte(cached), &submission); err == nil {
				return &submission, nil
			}
		}
	}

	submission, err := r.getByIDFromDB(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil && submission.Status.IsTerminal() {
		_ = r.cache.Set(ctx, key, marshalJSON(submission), cache.JitterTTL(r.ttl))
	}
	return submission, nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, submissionID string) (*model.Submission, error) {
	database, err := db.CurrentDatabase(r.db)
	if err != nil {
		return nil, err
	}

	var (
		submission model.Submission
		status     string
		sourceKey  sql.NullString
		verdicts   sql.NullString
		evaluation sql.NullString
		points     sql.NullInt64
		message    sql.NullString
		execTime   sql.NullInt64
		memory     sql.NullInt64
		finishedAt sql.NullTime
	)
	row := database.QueryRow(ctx,
		`SELECT submission_id, user_id, problem_id, language, source_code, source_key, status, verdicts,
			execution_time_ms, peak_memory_kb, evaluation, points_awarded, degraded, message, created_at, finished_at
		FROM grade_submissions WHERE submission_id = ? LIMIT 1`,
		submissionID,
	)
	if err := row.Scan(
		&submission.ID,
		&submission.UserID,
		&submission.ProblemID,
		&submission.Language,
		&submission.SourceCode,
		&sourceKey,
		&status,
		&verdicts,
		&execTime,
		&memory,
		&evaluation,
		&points,
		&submission.Degraded,
		&message,
		&submission.CreatedAt,
		&finishedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("query submission failed: %w", err)
	}

	submission.Status = model.SubmissionStatus(status)
	submission.SourceKey = sourceKey.String
	submission.Message = message.String
	submission.ExecutionTimeMs = execTime.Int64
	submission.PeakMemoryKB = memory.Int64
	if verdicts.Valid && verdicts.String != "" {
		if err := json.Unmarshal([]byte(verdicts.String), &submission.Verdicts); err != nil {
			return nil, fmt.Errorf("decode verdicts failed: %w", err)
		}
	}
	if evaluation.Valid && evaluation.String != "" {
		var eval model.Evaluation
		if err := json.Unmarshal([]byte(evaluation.String), &eval); err != nil {
			return nil, fmt.Errorf("decode evaluation failed: %w", err)
		}
		submission.Evaluation = &eval
	}
	if points.Valid {
		p := int(points.Int64)
		submission.PointsAwarded = &p
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		submission.FinishedAt = &t
	}
	return &submission, nil
}
