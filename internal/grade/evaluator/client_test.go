package evaluator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"judgeflow/internal/grade/evaluator"
	"judgeflow/internal/grade/model"
	appErr "judgeflow/pkg/errors"
)

type chatStub struct {
	status  int
	content string
	calls   atomic.Int32
	prompt  atomic.Value
	auth    atomic.Value
}

func (s *chatStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	s.auth.Store(r.Header.Get("Authorization"))
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if len(req.Messages) > 0 {
		s.prompt.Store(req.Messages[len(req.Messages)-1].Content)
	}
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": s.content}},
		},
	})
}

func newEvaluator(t *testing.T, url string) *evaluator.Client {
	t.Helper()
	client, err := evaluator.NewClient(evaluator.Config{BaseURL: url, APIKey: "sk-test", Model: "m"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestEvaluateWithVerdicts(t *testing.T) {
	t.Parallel()

	stub := &chatStub{content: "```json\n{\"score\": 9.4, \"feedback\": \"good\", \"improvements\": []}\n```"}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	eval, err := newEvaluator(t, srv.URL).Evaluate(context.Background(), evaluator.Request{
		Statement:  "Two Sum",
		Language:   "python",
		SourceCode: "def two_sum(): pass",
		Verdicts: []model.TestVerdict{
			{Index: 0, Passed: true, Input: "[2,7,11,15], 9", ExpectedNormalized: "[0,1]", ActualNormalized: "[1,0]"},
			{Index: 1, Passed: false, Hidden: true, Input: "secret"},
		},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Score != 9.4 {
		t.Fatalf("unexpected score %v", eval.Score)
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", stub.calls.Load())
	}
	prompt, _ := stub.prompt.Load().(string)
	if !strings.Contains(prompt, "Two Sum") || !strings.Contains(prompt, "1/2 passed") {
		t.Fatalf("prompt missing statement or summary: %s", prompt)
	}
	if strings.Contains(prompt, "secret") {
		t.Fatalf("hidden test input leaked into prompt")
	}
	if auth, _ := stub.auth.Load().(string); auth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", auth)
	}
}

func TestEvaluateCodeOnlyPrompt(t *testing.T) {
	t.Parallel()

	stub := &chatStub{content: `{"score": 4, "feedback": "probably works"}`}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	_, err := newEvaluator(t, srv.URL).Evaluate(context.Background(), evaluator.Request{
		Statement: "Two Sum", Language: "go", SourceCode: "package main",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	prompt, _ := stub.prompt.Load().(string)
	if !strings.Contains(prompt, "could not be executed") {
		t.Fatalf("expected code-only wording: %s", prompt)
	}
}

func TestEvaluateParseFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	stub := &chatStub{content: "I refuse to answer in JSON."}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	_, err := newEvaluator(t, srv.URL).Evaluate(context.Background(), evaluator.Request{Statement: "s", Language: "go", SourceCode: "x"})
	if !appErr.Is(err, appErr.EvaluationParseFailed) {
		t.Fatalf("expected EvaluationParseFailed, got %v", err)
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", stub.calls.Load())
	}
}

func TestEvaluateUnavailable(t *testing.T) {
	t.Parallel()

	stub := &chatStub{status: http.StatusBadGateway}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	_, err := newEvaluator(t, srv.URL).Evaluate(context.Background(), evaluator.Request{Statement: "s", Language: "go", SourceCode: "x"})
	if !appErr.Is(err, appErr.EvaluatorUnavailable) {
		t.Fatalf("expected EvaluatorUnavailable, got %v", err)
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", stub.calls.Load())
	}
}
