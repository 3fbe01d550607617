// Package metrics exposes grading and HTTP metrics for Prometheus.
package metrics

import (
	"strconv"
	"time"

	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/sandbox"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "judgeflow"

// Collector holds every grading metric. It implements sandbox.Observer and
// the grade service Recorder.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gradings        *prometheus.CounterVec
	gradeDuration   prometheus.Histogram
	executions      *prometheus.CounterVec
	pollAttempts    prometheus.Histogram
	execDuration    *prometheus.HistogramVec
	evaluations     *prometheus.CounterVec
	pointsAwarded   prometheus.Counter
}

// NewCollector creates a collector registered on its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "endpoint"},
		),
		gradings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gradings_total",
				Help:      "Finalized submissions by status",
			},
			[]string{"status", "degraded"},
		),
		gradeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grading_duration_seconds",
			Help:      "Wall time of one grading attempt",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sandbox_executions_total",
				Help:      "Sandbox executions by language and outcome",
			},
			[]string{"language", "outcome"},
		),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_poll_attempts",
			Help:      "Result polls needed per execution",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		execDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sandbox_execution_duration_seconds",
				Help:      "Submit plus poll time per execution",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"language"},
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Qualitative evaluations by outcome",
			},
			[]string{"outcome"},
		),
		pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points credited to users",
		}),
	}
	c.registry.MustRegister(
		c.requests,
		c.requestDuration,
		c.gradings,
		c.gradeDuration,
		c.executions,
		c.pollAttempts,
		c.execDuration,
		c.evaluations,
		c.pointsAwarded,
	)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveExecution records one finished sandbox execution.
func (c *Collector) ObserveExecution(language string, status sandbox.OutcomeStatus, attempts int, elapsed time.Duration) {
	c.executions.WithLabelValues(language, string(status)).Inc()
	c.pollAttempts.Observe(float64(attempts))
	c.execDuration.WithLabelValues(language).Observe(elapsed.Seconds())
}

// RecordGrade records one finalized submission.
func (c *Collector) RecordGrade(status model.SubmissionStatus, degraded bool, elapsed time.Duration) {
	c.gradings.WithLabelValues(string(status), strconv.FormatBool(degraded)).Inc()
	c.gradeDuration.Observe(elapsed.Seconds())
}

// RecordEvaluation counts evaluator outcomes such as ok, parse_failed or unavailable.
func (c *Collector) RecordEvaluation(outcome string) {
	c.evaluations.WithLabelValues(outcome).Inc()
}

// RecordAward adds awarded points. Zero awards are not counted.
func (c *Collector) RecordAward(points int) {
	if points > 0 {
		c.pointsAwarded.Add(float64(points))
	}
}

// Middleware records request counts and latency per route.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		c.requests.WithLabelValues(
			ctx.Request.Method,
			endpoint,
			strconv.Itoa(ctx.Writer.Status()),
		).Inc()
		c.requestDuration.WithLabelValues(ctx.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the collector's registry.
func (c *Collector) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return func(ctx *gin.Context) {
		h.ServeHTTP(ctx.Writer, ctx.Request)
	}
}
