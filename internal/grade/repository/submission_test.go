package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/repository"
)

func TestSubmissionFinalizeWritesOnce(t *testing.T) {
	t.Parallel()
	mr, c := newTestCache(t)
	finalized := false
	database := &fakeDatabase{
		exec: func(query string, args ...interface{}) (db.Result, error) {
			if finalized {
				return fakeResult{affected: 0}, nil
			}
			finalized = true
			return fakeResult{affected: 1}, nil
		},
	}
	if err := mr.Set("grade:submission:sub-1", "{}"); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}
	repo := repository.NewSubmissionRepository(db.NewManager(database), c, time.Minute)
	points := 25
	sub := &model.Submission{
		ID:            "sub-1",
		Status:        model.StatusAccepted,
		Verdicts:      []model.TestVerdict{{Index: 0, Passed: true}},
		PointsAwarded: &points,
	}

	if err := repo.Finalize(context.Background(), sub); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if sub.FinishedAt == nil {
		t.Fatalf("expected finished time set")
	}
	if mr.Exists("grade:submission:sub-1") {
		t.Fatalf("expected cached submission evicted")
	}
	sub.Status = model.StatusWrongAnswer
	if err := repo.Finalize(context.Background(), sub); !errors.Is(err, repository.ErrSubmissionFinalized) {
		t.Fatalf("expected already finalized, got %v", err)
	}
}

func TestSubmissionFinalizeRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()
	database := &fakeDatabase{}
	repo := repository.NewSubmissionRepository(db.NewManager(database), nil, time.Minute)
	err := repo.Finalize(context.Background(), &model.Submission{ID: "sub-2", Status: model.StatusProcessing})
	if err == nil {
		t.Fatalf("expected error for non-terminal status")
	}
	if len(database.execs) != 0 {
		t.Fatalf("expected no statement executed")
	}
}

func TestSubmissionGetByIDServesCache(t *testing.T) {
	t.Parallel()
	mr, c := newTestCache(t)
	if err := mr.Set("grade:submission:sub-3", `{"id":"sub-3","status":"Accepted","verdicts":[{"index":0,"passed":true}]}`); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}
	repo := repository.NewSubmissionRepository(db.NewManager(&fakeDatabase{}), c, time.Minute)

	sub, err := repo.GetByID(context.Background(), "sub-3")
	if err != nil {
		t.Fatalf("get submission failed: %v", err)
	}
	if sub.Status != model.StatusAccepted || len(sub.Verdicts) != 1 {
		t.Fatalf("unexpected submission: %+v", sub)
	}
}
