package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"judgeflow/internal/grade/metrics"
	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/sandbox"

	"github.com/gin-gonic/gin"
)

func TestCollectorRecordsGrading(t *testing.T) {
	t.Parallel()
	c := metrics.NewCollector()

	c.ObserveExecution("python", sandbox.OutcomeSuccess, 3, 1500*time.Millisecond)
	c.RecordGrade(model.StatusAccepted, false, 2*time.Second)
	c.RecordEvaluation("parse_failed")
	c.RecordAward(33)
	c.RecordAward(0)

	body := scrape(t, c)
	for _, want := range []string{
		`judgeflow_sandbox_executions_total{language="python",outcome="Success"} 1`,
		`judgeflow_gradings_total{degraded="false",status="Accepted"} 1`,
		`judgeflow_evaluations_total{outcome="parse_failed"} 1`,
		`judgeflow_points_awarded_total 33`,
		`judgeflow_sandbox_poll_attempts_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestCollectorMiddlewareCountsRoutes(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	c := metrics.NewCollector()
	r := gin.New()
	r.Use(c.Middleware())
	r.GET("/api/v1/submissions/:id", func(ctx *gin.Context) { ctx.Status(http.StatusNotFound) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/abc", nil))
	}

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	count := 0
	for _, f := range families {
		if f.GetName() == "judgeflow_http_requests_total" {
			count = len(f.GetMetric())
		}
	}
	if count != 1 {
		t.Fatalf("expected one route series, got %d", count)
	}
	if !strings.Contains(scrape(t, c), `endpoint="/api/v1/submissions/:id",method="GET",status="404"} 2`) {
		t.Fatalf("expected route template label")
	}
}

func scrape(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", c.Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	return w.Body.String()
}
