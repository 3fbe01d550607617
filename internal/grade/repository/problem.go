package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/grade/model"
)

const (
	defaultProblemCacheTTL      = 10 * time.Minute
	defaultProblemCacheEmptyTTL = time.Minute
	problemCacheKeyPrefix       = "grade:problem:"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemRepository reads problems and their ordered test cases.
type ProblemRepository interface {
	GetByID(ctx context.Context, problemID int64) (*model.Problem, error)
}

// MySQLProblemRepository implements ProblemRepository with MySQL and a read-through cache.
type MySQLProblemRepository struct {
	db       db.Provider
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewProblemRepository creates a problem repository. cacheClient may be nil.
func NewProblemRepository(provider db.Provider, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemCacheEmptyTTL
	}
	return &MySQLProblemRepository{db: provider, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

// GetByID returns ErrProblemNotFound when the problem does not exist.
func (r *MySQLProblemRepository) GetByID(ctx context.Context, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, ErrProblemNotFound
	}
	if r.cache == nil {
		return r.getFromDB(ctx, problemID)
	}
	problem, err := cache.GetWithCached[*model.Problem](
		ctx,
		r.cache,
		problemCacheKeyPrefix+strconv.FormatInt(problemID, 10),
		r.ttl,
		r.emptyTTL,
		func(p *model.Problem) bool { return p == nil },
		marshalJSON[*model.Problem],
		unmarshalProblem,
		func(ctx context.Context) (*model.Problem, error) {
			p, err := r.getFromDB(ctx, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, problemID int64) (*model.Problem, error) {
	database, err := db.CurrentDatabase(r.db)
	if err != nil {
		return nil, err
	}

	problem := &model.Problem{}
	var difficulty string
	var solution *string
	row := database.QueryRow(ctx,
		"SELECT id, title, statement, difficulty, solution_text FROM problems WHERE id = ? LIMIT 1",
		problemID,
	)
	if err := row.Scan(&problem.ID, &problem.Title, &problem.Statement, &difficulty, &solution); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, fmt.Errorf("query problem failed: %w", err)
	}
	if d, ok := model.ParseDifficulty(difficulty); ok {
		problem.Difficulty = d
	} else {
		problem.Difficulty = model.Difficulty(difficulty)
	}
	if solution != nil {
		problem.SolutionText = *solution
	}

	rows, err := database.Query(ctx,
		"SELECT id, input, expected_output, hidden FROM problem_test_cases WHERE problem_id = ? ORDER BY ordinal ASC, id ASC",
		problemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query test cases failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.Input, &tc.ExpectedOutput, &tc.Hidden); err != nil {
			return nil, err
		}
		problem.TestCases = append(problem.TestCases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return problem, nil
}

func unmarshalProblem(data string) (*model.Problem, error) {
	var p model.Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func marshalJSON[T any](v T) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
