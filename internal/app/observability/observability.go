package observability

import (
	"bufio"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the process metrics and the access log.
type Collector struct {
	log *slog.Logger
	reg *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	turns         *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	completed     *prometheus.CounterVec
	gradeFailures prometheus.Counter
	degradedCalls *prometheus.CounterVec
	startedAt     time.Time
}

func NewCollector(db *sql.DB, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	reg := prometheus.NewRegistry()
	c := &Collector{
		log: log.With("component", "http"),
		reg: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobgrade_http_requests_total",
			Help: "HTTP requests by method, normalized path and status.",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobgrade_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobgrade_interview_turns_total",
			Help: "Interview turns by outcome.",
		}, []string{"outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobgrade_interview_conflicts_total",
			Help: "Contradictions found, by conflict rule id.",
		}, []string{"rule"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobgrade_interview_completed_total",
			Help: "Completed sessions by grading result.",
		}, []string{"graded"}),
		gradeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobgrade_grade_failures_total",
			Help: "Grade computations that failed at completion.",
		}),
		degradedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobgrade_interpretation_degraded_total",
			Help: "Interpretation calls answered by a local fallback, by task.",
		}, []string{"task"}),
		startedAt: time.Now(),
	}
	reg.MustRegister(
		c.requests, c.latency, c.turns, c.conflicts, c.completed, c.gradeFailures, c.degradedCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if db != nil {
		reg.MustRegister(collectors.NewDBStatsCollector(db, "jobgrade"))
	}
	return c
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		path := normalizedPath(r.URL.Path)
		c.requests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		c.latency.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

		c.log.Info("request",
			"request_id", middleware.GetReqID(r.Context()),
			"user_id", extractUserID(r.URL.Path),
			"method", r.Method,
			"path", path,
			"status", rec.status,
			"latency_ms", float64(elapsed.Microseconds())/1000.0,
			"remote_ip", strings.TrimSpace(r.RemoteAddr),
		)
	})
}

func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startedAt)
}

func (c *Collector) Turn(outcome string) {
	c.turns.WithLabelValues(outcome).Inc()
}

func (c *Collector) Conflict(ruleID int64) {
	c.conflicts.WithLabelValues(strconv.FormatInt(ruleID, 10)).Inc()
}

func (c *Collector) Completed(graded bool) {
	c.completed.WithLabelValues(strconv.FormatBool(graded)).Inc()
	if !graded {
		c.gradeFailures.Inc()
	}
}

func (c *Collector) Degraded(task string) {
	c.degradedCalls.WithLabelValues(task).Inc()
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// extractUserID reads the respondent id from interview and session paths.
func extractUserID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "interviews" || parts[i] == "sessions" {
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}
