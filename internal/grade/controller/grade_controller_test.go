package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/grade/controller"
	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/service"
	appErr "judgeflow/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeGradeService struct {
	gradeInput service.GradeInput
	runInput   service.RunInput
	gradeErr   error
	result     *model.SubmissionResult
}

func (f *fakeGradeService) Grade(ctx context.Context, input service.GradeInput) (*model.SubmissionResult, error) {
	f.gradeInput = input
	if f.gradeErr != nil {
		return nil, f.gradeErr
	}
	return f.result, nil
}

func (f *fakeGradeService) Run(ctx context.Context, input service.RunInput) (*model.RunResult, error) {
	f.runInput = input
	return &model.RunResult{Stdout: "3", Compared: input.Stdin == nil}, nil
}

func (f *fakeGradeService) GetSubmission(ctx context.Context, id string) (*model.SubmissionView, error) {
	if id != "sub-1" {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return &model.SubmissionView{ID: id, Status: model.StatusAccepted}, nil
}

func (f *fakeGradeService) GetProgress(ctx context.Context, userID int64) (*model.UserProgress, error) {
	return &model.UserProgress{UserID: userID, Score: 40, SolvedCount: 2}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

func newRouter(svc controller.GradeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.TraceContextMiddleware())
	controller.NewGradeController(svc).Register(r.Group("/api/v1"))
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response failed: %v (%s)", err, w.Body.String())
	}
	return w, env
}

func TestSubmitPassesInputAndWrapsResult(t *testing.T) {
	t.Parallel()
	svc := &fakeGradeService{result: &model.SubmissionResult{
		Success:    true,
		Submission: model.SubmissionView{ID: "sub-1", Status: model.StatusAccepted, PointsEarned: 25},
	}}
	r := newRouter(svc)

	w, env := do(t, r, http.MethodPost, "/api/v1/problems/42/submissions",
		`{"language":"python","source_code":"print(1)"}`,
		map[string]string{"Idempotency-Key": " abc ", middleware.UserIDHeader: "7"})
	if w.Code != http.StatusOK || env.Code != int(appErr.Success) {
		t.Fatalf("unexpected response: %d %+v", w.Code, env)
	}
	if svc.gradeInput.UserID != 7 || svc.gradeInput.ProblemID != 42 || svc.gradeInput.IdempotencyKey != "abc" {
		t.Fatalf("unexpected input: %+v", svc.gradeInput)
	}
	var result model.SubmissionResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if !result.Success || result.Submission.PointsEarned != 25 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if env.TraceID == "" {
		t.Fatalf("expected trace id in envelope")
	}
}

func TestSubmitAlreadySolvedIsNotAFailure(t *testing.T) {
	t.Parallel()
	svc := &fakeGradeService{gradeErr: appErr.New(appErr.AlreadySolved)}
	r := newRouter(svc)

	w, env := do(t, r, http.MethodPost, "/api/v1/problems/42/submissions",
		`{"user_id":7,"language":"python","source_code":"print(1)"}`, nil)
	if w.Code != http.StatusOK || env.Code != int(appErr.AlreadySolved) {
		t.Fatalf("unexpected response: %d %+v", w.Code, env)
	}
	var guard model.GuardResult
	if err := json.Unmarshal(env.Data, &guard); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if guard.Success || !guard.AlreadySolved || guard.Message == "" {
		t.Fatalf("unexpected guard result: %+v", guard)
	}
}

func TestSubmitMapsErrorsToStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{appErr.ValidationError("source_code", "required"), http.StatusBadRequest},
		{appErr.New(appErr.LanguageNotSupported), http.StatusBadRequest},
		{appErr.New(appErr.ProblemNotFound), http.StatusNotFound},
		{appErr.New(appErr.DatabaseError), http.StatusInternalServerError},
		{appErr.New(appErr.SandboxUnavailable), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		r := newRouter(&fakeGradeService{gradeErr: tc.err})
		w, _ := do(t, r, http.MethodPost, "/api/v1/problems/1/submissions",
			`{"user_id":7,"language":"go","source_code":"package main"}`, nil)
		if w.Code != tc.want {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	t.Parallel()
	r := newRouter(&fakeGradeService{})
	if w, _ := do(t, r, http.MethodPost, "/api/v1/problems/abc/submissions", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad problem id, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/api/v1/problems/1/submissions", `{"language":"go"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing code, got %d", w.Code)
	}
}

func TestRunForwardsStdin(t *testing.T) {
	t.Parallel()
	svc := &fakeGradeService{}
	r := newRouter(svc)
	w, _ := do(t, r, http.MethodPost, "/api/v1/problems/5/run",
		`{"language":"go","source_code":"package main","stdin":"1 2"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if svc.runInput.Stdin == nil || *svc.runInput.Stdin != "1 2" || svc.runInput.ProblemID != 5 {
		t.Fatalf("unexpected run input: %+v", svc.runInput)
	}
}

func TestGetSubmissionAndProgress(t *testing.T) {
	t.Parallel()
	r := newRouter(&fakeGradeService{})
	if w, _ := do(t, r, http.MethodGet, "/api/v1/submissions/sub-1", "", nil); w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodGet, "/api/v1/submissions/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w, env := do(t, r, http.MethodGet, "/api/v1/users/7/progress", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var progress model.UserProgress
	if err := json.Unmarshal(env.Data, &progress); err != nil || progress.Score != 40 {
		t.Fatalf("unexpected progress: %+v err=%v", progress, err)
	}
}
