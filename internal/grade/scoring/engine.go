// Package scoring turns an accepted submission into a one-time point award.
package scoring

import (
	"context"
	"math"
	"time"

	"judgeflow/internal/grade/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const BasePoints = 10

var difficultyBonus = map[model.Difficulty]int{
	model.DifficultyEasy:   5,
	model.DifficultyMedium: 15,
	model.DifficultyHard:   25,
}

// ProgressStore persists the solved set and score.
type ProgressStore interface {
	IsSolved(ctx context.Context, userID, problemID int64) (bool, error)
	// AwardOnce records (userID, problemID) as solved and adds points in one
	// atomic step. It returns false and changes nothing if the pair already exists.
	AwardOnce(ctx context.Context, userID, problemID int64, points int, at time.Time) (bool, error)
}

// Points computes the award for an accepted solution.
func Points(difficulty model.Difficulty, evalScore *float64) int {
	points := BasePoints + difficultyBonus[difficulty]
	if evalScore != nil && !math.IsNaN(*evalScore) {
		points += int(math.Round(*evalScore))
	}
	return points
}

// Engine applies awards.
type Engine struct {
	store ProgressStore
	now   func() time.Time
}

// NewEngine creates an Engine backed by store.
func NewEngine(store ProgressStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Award credits userID for problemID and returns the points added.
// It returns 0 without error when the problem is already solved.
func (e *Engine) Award(ctx context.Context, userID, problemID int64, difficulty model.Difficulty, evalScore *float64) (int, error) {
	solved, err := e.store.IsSolved(ctx, userID, problemID)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "check solved state failed")
	}
	if solved {
		logger.Info(ctx, "award skipped, problem already solved",
			zap.Int64("problem_id", problemID),
		)
		return 0, nil
	}

	points := Points(difficulty, evalScore)
	awarded, err := e.store.AwardOnce(ctx, userID, problemID, points, e.now())
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.ProgressUpdateFailed, "award points failed")
	}
	if !awarded {
		// Lost a race with a concurrent accepted submission.
		logger.Info(ctx, "award skipped by concurrent submission",
			zap.Int64("problem_id", problemID),
		)
		return 0, nil
	}
	return points, nil
}
