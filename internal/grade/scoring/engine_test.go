package scoring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/scoring"
	appErr "judgeflow/pkg/errors"
)

type memoryStore struct {
	mu        sync.Mutex
	solved    map[[2]int64]bool
	score     map[int64]int64
	awardErr  error
	hideCheck bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{solved: make(map[[2]int64]bool), score: make(map[int64]int64)}
}

func (m *memoryStore) IsSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideCheck {
		return false, nil
	}
	return m.solved[[2]int64{userID, problemID}], nil
}

func (m *memoryStore) AwardOnce(ctx context.Context, userID, problemID int64, points int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.awardErr != nil {
		return false, m.awardErr
	}
	key := [2]int64{userID, problemID}
	if m.solved[key] {
		return false, nil
	}
	m.solved[key] = true
	m.score[userID] += int64(points)
	return true, nil
}

func floatPtr(v float64) *float64 { return &v }

func TestPoints(t *testing.T) {
	t.Parallel()

	cases := []struct {
		difficulty model.Difficulty
		eval       *float64
		want       int
	}{
		{model.DifficultyEasy, nil, 15},
		{model.DifficultyMedium, nil, 25},
		{model.DifficultyHard, nil, 35},
		{model.DifficultyMedium, floatPtr(7.5), 33},
		{model.DifficultyEasy, floatPtr(7.4), 22},
		{model.DifficultyHard, floatPtr(0), 35},
		{model.DifficultyHard, floatPtr(10), 45},
		{model.Difficulty("Unknown"), nil, 10},
	}
	for _, tc := range cases {
		if got := scoring.Points(tc.difficulty, tc.eval); got != tc.want {
			t.Fatalf("Points(%s, %v) = %d, want %d", tc.difficulty, tc.eval, got, tc.want)
		}
	}
}

func TestAwardIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	engine := scoring.NewEngine(store)

	first, err := engine.Award(context.Background(), 1, 42, model.DifficultyMedium, nil)
	if err != nil || first != 25 {
		t.Fatalf("first award = %d, %v", first, err)
	}
	for i := 0; i < 3; i++ {
		again, err := engine.Award(context.Background(), 1, 42, model.DifficultyMedium, floatPtr(9))
		if err != nil || again != 0 {
			t.Fatalf("repeat award = %d, %v", again, err)
		}
	}
	if store.score[1] != 25 {
		t.Fatalf("expected score 25, got %d", store.score[1])
	}
}

func TestAwardConcurrentOnlyOnce(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.hideCheck = true
	engine := scoring.NewEngine(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pts, err := engine.Award(context.Background(), 7, 3, model.DifficultyHard, nil)
			if err != nil {
				t.Errorf("award: %v", err)
				return
			}
			mu.Lock()
			total += pts
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 35 || store.score[7] != 35 {
		t.Fatalf("expected a single award of 35, got total=%d score=%d", total, store.score[7])
	}
}

func TestAwardStoreFailure(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.awardErr = errors.New("deadlock")
	_, err := scoring.NewEngine(store).Award(context.Background(), 1, 1, model.DifficultyEasy, nil)
	if !appErr.Is(err, appErr.ProgressUpdateFailed) {
		t.Fatalf("expected ProgressUpdateFailed, got %v", err)
	}
}
