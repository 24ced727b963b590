package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCycleCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncCallDispatched("Priority", "scheduled")
	metrics.IncDispatchFailed("default", "timeout")
	metrics.ObserveDispatchDuration("default", 120*time.Millisecond)
	metrics.IncRetryAction("call_scheduled")
	metrics.IncRetryAction("call_scheduled")
	metrics.ObserveCycleDuration(-time.Second)
	metrics.IncCycleSkipped()
	metrics.IncOutcome("busy_callback")
	metrics.IncWorkerInFlight("cycle")
	metrics.DecWorkerInFlight("cycle")

	if got := testutil.ToFloat64(metrics.callsDispatchedTotal.WithLabelValues("priority", "scheduled")); got != 1 {
		t.Fatalf("calls_dispatched_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchFailuresTotal.WithLabelValues("default", "timeout")); got != 1 {
		t.Fatalf("dispatch_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryActionsTotal.WithLabelValues("call_scheduled")); got != 2 {
		t.Fatalf("retry_actions_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.cyclesSkippedTotal); got != 1 {
		t.Fatalf("cycles_skipped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.outcomesTotal.WithLabelValues("busy_callback")); got != 1 {
		t.Fatalf("call_outcomes_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight.WithLabelValues("cycle")); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncCallDispatched("default", "scheduled")
	metrics.IncRetryAction("not_due")
	metrics.ObserveCycleDuration(time.Second)
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
