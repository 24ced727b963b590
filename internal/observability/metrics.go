package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, the retry cycle, and
// the outcome worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	callsDispatchedTotal  *prometheus.CounterVec
	dispatchFailuresTotal *prometheus.CounterVec
	dispatchDuration      *prometheus.HistogramVec
	retryActionsTotal     *prometheus.CounterVec
	cycleDuration         prometheus.Histogram
	cyclesSkippedTotal    prometheus.Counter
	outcomesTotal         *prometheus.CounterVec
	workerInflight        *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lead_retry_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lead_retry_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		callsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lead_retry_engine",
				Name:      "calls_dispatched_total",
				Help:      "Total number of calls accepted by the voice provider.",
			},
			[]string{"policy", "trigger"},
		),
		dispatchFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lead_retry_engine",
				Name:      "dispatch_failures_total",
				Help:      "Total number of call dispatches that failed.",
			},
			[]string{"policy", "reason"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lead_retry_engine",
				Name:      "dispatch_duration_seconds",
				Help:      "Voice provider call placement duration in seconds grouped by policy.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"policy"},
		),
		retryActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lead_retry_engine",
				Name:      "retry_actions_total",
				Help:      "Total number of per-record actions taken by processing cycles.",
			},
			[]string{"action"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "lead_retry_engine",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of one processing cycle in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		cyclesSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lead_retry_engine",
				Name:      "cycles_skipped_total",
				Help:      "Total number of cycle invocations skipped because another cycle was running.",
			},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lead_retry_engine",
				Name:      "call_outcomes_total",
				Help:      "Total number of post-call outcomes handled grouped by kind.",
			},
			[]string{"kind"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lead_retry_engine",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight operations grouped by stage.",
			},
			[]string{"stage"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.callsDispatchedTotal,
		m.dispatchFailuresTotal,
		m.dispatchDuration,
		m.retryActionsTotal,
		m.cycleDuration,
		m.cyclesSkippedTotal,
		m.outcomesTotal,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncCallDispatched(policy string, trigger string) {
	if m == nil {
		return
	}
	m.callsDispatchedTotal.WithLabelValues(normalizeLabel(policy), normalizeLabel(trigger)).Inc()
}

func (m *Metrics) IncDispatchFailed(policy string, reason string) {
	if m == nil {
		return
	}
	m.dispatchFailuresTotal.WithLabelValues(normalizeLabel(policy), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveDispatchDuration(policy string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(normalizeLabel(policy)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncRetryAction(action string) {
	if m == nil {
		return
	}
	m.retryActionsTotal.WithLabelValues(normalizeLabel(action)).Inc()
}

func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncCycleSkipped() {
	if m == nil {
		return
	}
	m.cyclesSkippedTotal.Inc()
}

func (m *Metrics) IncOutcome(kind string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncWorkerInFlight(stage string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (m *Metrics) DecWorkerInFlight(stage string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(stage)).Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
