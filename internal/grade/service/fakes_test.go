package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"judgeflow/internal/grade/evaluator"
	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/repository"
	"judgeflow/internal/grade/sandbox"
)

type fakeProblems struct {
	problems map[int64]*model.Problem
}

func (f *fakeProblems) GetByID(ctx context.Context, problemID int64) (*model.Problem, error) {
	p, ok := f.problems[problemID]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	return p, nil
}

// memorySubmissions stores copies and refuses to overwrite a terminal status.
type memorySubmissions struct {
	mu          sync.Mutex
	rows        map[string]model.Submission
	created     int
	finalized   int
	finalizeErr error
}

func newMemorySubmissions() *memorySubmissions {
	return &memorySubmissions{rows: make(map[string]model.Submission)}
}

func (m *memorySubmissions) Create(ctx context.Context, s *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = clone(s)
	m.created++
	return nil
}

func (m *memorySubmissions) Finalize(ctx context.Context, s *model.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	if m.rows[s.ID].Status.IsTerminal() {
		return repository.ErrSubmissionFinalized
	}
	m.rows[s.ID] = clone(s)
	m.finalized++
	return nil
}

func (m *memorySubmissions) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	c := clone(&s)
	return &c, nil
}

func (m *memorySubmissions) only() model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		return s
	}
	return model.Submission{}
}

func clone(s *model.Submission) model.Submission {
	data, _ := json.Marshal(s)
	var out model.Submission
	_ = json.Unmarshal(data, &out)
	return out
}

type memoryProgress struct {
	mu     sync.Mutex
	solved map[[2]int64]bool
	score  map[int64]int64
	count  map[int64]int64
	awards int
}

func newMemoryProgress() *memoryProgress {
	return &memoryProgress{
		solved: make(map[[2]int64]bool),
		score:  make(map[int64]int64),
		count:  make(map[int64]int64),
	}
}

func (m *memoryProgress) IsSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solved[[2]int64{userID, problemID}], nil
}

func (m *memoryProgress) AwardOnce(ctx context.Context, userID, problemID int64, points int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{userID, problemID}
	if m.solved[key] {
		return false, nil
	}
	m.solved[key] = true
	m.score[userID] += int64(points)
	m.count[userID]++
	m.awards++
	return true, nil
}

func (m *memoryProgress) GetProgress(ctx context.Context, userID int64) (*model.UserProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &model.UserProgress{UserID: userID, Score: m.score[userID], SolvedCount: m.count[userID]}, nil
}

type fakeSandbox struct {
	mu     sync.Mutex
	calls  int
	stdins []string
	run    func(ctx context.Context, req sandbox.ExecuteRequest) (*sandbox.Outcome, error)
}

func (f *fakeSandbox) Supports(language string) bool {
	return language == "python" || language == "go"
}

func (f *fakeSandbox) Execute(ctx context.Context, req sandbox.ExecuteRequest) (*sandbox.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.stdins = append(f.stdins, req.Stdin)
	f.mu.Unlock()
	return f.run(ctx, req)
}

func (f *fakeSandbox) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func success(stdout string) *sandbox.Outcome {
	return &sandbox.Outcome{Status: sandbox.OutcomeSuccess, StatusID: 3, Stdout: stdout, TimeMs: 12, MemoryKB: 2048}
}

type fakeEvaluator struct {
	mu       sync.Mutex
	requests []evaluator.Request
	eval     *model.Evaluation
	err      error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req evaluator.Request) (*model.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	e := *f.eval
	return &e, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []model.SubmissionEvent
}

func (f *fakeEvents) PublishFinalized(ctx context.Context, event model.SubmissionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}
