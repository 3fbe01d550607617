package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/grade/model"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultSolvedCacheTTL = 24 * time.Hour
	solvedCacheKeyPrefix  = "grade:solved:"
)

var errAlreadySolved = errors.New("problem already solved")

// MySQLProgressStore keeps the solved set and user score in MySQL.
// The solved set is mirrored into a redis set per user; only positive
// membership is trusted from the cache.
type MySQLProgressStore struct {
	db    db.Provider
	cache cache.Cache
	ttl   time.Duration
}

// NewProgressStore creates a progress store. cacheClient may be nil.
func NewProgressStore(provider db.Provider, cacheClient cache.Cache, ttl time.Duration) *MySQLProgressStore {
	if ttl <= 0 {
		ttl = defaultSolvedCacheTTL
	}
	return &MySQLProgressStore{db: provider, cache: cacheClient, ttl: ttl}
}

// IsSolved reports whether userID already solved problemID.
func (s *MySQLProgressStore) IsSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	key := solvedCacheKey(userID)
	if s.cache != nil {
		if ok, err := s.cache.SIsMember(ctx, key, problemID); err == nil && ok {
			return true, nil
		}
	}

	database, err := db.CurrentDatabase(s.db)
	if err != nil {
		return false, err
	}
	var one int
	err = database.QueryRow(ctx,
		"SELECT 1 FROM user_solved_problems WHERE user_id = ? AND problem_id = ? LIMIT 1",
		userID, problemID,
	).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("query solved state failed: %w", err)
	}
	s.rememberSolved(ctx, userID, problemID)
	return true, nil
}

// AwardOnce inserts the solved pair and adds points in one transaction.
// The unique key on (user_id, problem_id) makes a second award a no-op.
func (s *MySQLProgressStore) AwardOnce(ctx context.Context, userID, problemID int64, points int, at time.Time) (bool, error) {
	database, err := db.CurrentDatabase(s.db)
	if err != nil {
		return false, err
	}

	err = database.Transaction(ctx, func(tx db.Transaction) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO user_solved_problems (user_id, problem_id, points, solved_at) VALUES (?, ?, ?, ?)",
			userID, problemID, points, at,
		)
		if err != nil {
			if key, dup := db.UniqueViolation(err); dup {
				logger.Info(ctx, "award skipped, problem already solved",
					zap.Int64("user_id", userID),
					zap.Int64("problem_id", problemID),
					zap.String("key", key),
				)
				return errAlreadySolved
			}
			return fmt.Errorf("insert solved problem failed: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO user_progress (user_id, score, solved_count, last_activity_at)
			VALUES (?, ?, 1, ?)
			ON DUPLICATE KEY UPDATE
				score = score + VALUES(score),
				solved_count = solved_count + 1,
				last_activity_at = VALUES(last_activity_at)`,
			userID, points, at,
		)
		if err != nil {
			return fmt.Errorf("update user progress failed: %w", err)
		}
		return nil
	})
	if errors.Is(err, errAlreadySolved) {
		s.rememberSolved(ctx, userID, problemID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.rememberSolved(ctx, userID, problemID)
	return true, nil
}

// GetProgress returns the user's score and solved count. Users without any
// award get a zero record.
func (s *MySQLProgressStore) GetProgress(ctx context.Context, userID int64) (*model.UserProgress, error) {
	database, err := db.CurrentDatabase(s.db)
	if err != nil {
		return nil, err
	}
	progress := &model.UserProgress{UserID: userID}
	err = database.QueryRow(ctx,
		"SELECT score, solved_count, last_activity_at FROM user_progress WHERE user_id = ? LIMIT 1",
		userID,
	).Scan(&progress.Score, &progress.SolvedCount, &progress.LastActivityAt)
	if err != nil {
		if db.IsNoRows(err) {
			return progress, nil
		}
		return nil, fmt.Errorf("query user progress failed: %w", err)
	}
	return progress, nil
}

func (s *MySQLProgressStore) rememberSolved(ctx context.Context, userID, problemID int64) {
	if s.cache == nil {
		return
	}
	key := solvedCacheKey(userID)
	if err := s.cache.SAdd(ctx, key, problemID); err != nil {
		return
	}
	_ = s.cache.Expire(ctx, key, cache.JitterTTL(s.ttl))
}

func solvedCacheKey(userID int64) string {
	return solvedCacheKeyPrefix + strconv.FormatInt(userID, 10)
}
