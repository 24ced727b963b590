package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/lead-retry-engine/internal/queue"
	"github.com/kursadbilgin/lead-retry-engine/internal/transport"
	"go.uber.org/zap"
)

type stubPublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.CallOutcomeMessage) error
}

func (s *stubPublisher) Publish(ctx context.Context, queueName string, msg queue.CallOutcomeMessage) error {
	if s.publishFn != nil {
		return s.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (s *stubPublisher) Close() error {
	return nil
}

func newWebhookTestApp(t *testing.T, publisher queue.Publisher) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterWebhookRoutes(app, publisher); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}
	return app
}

func TestWebhookIntegration_CallOutcome(t *testing.T) {
	t.Parallel()

	var gotQueue string
	var got queue.CallOutcomeMessage
	app := newWebhookTestApp(t, &stubPublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.CallOutcomeMessage) error {
			gotQueue = queueName
			got = msg
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/call-outcome", bytes.NewBufferString(
		`{"leadId":" lead-1 ","callId":"c-1","status":"completed","availability":"busy","callbackAt":"2026-03-02T16:00:00+05:30"}`,
	))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderXRequestID, "req-42")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if gotQueue != queue.OutcomeQueue {
		t.Fatalf("queue = %q, want %q", gotQueue, queue.OutcomeQueue)
	}
	if got.LeadID != "lead-1" || got.CorrelationID != "req-42" {
		t.Fatalf("message = %+v", got)
	}
	if got.CallbackAt == nil || *got.CallbackAt != "2026-03-02T16:00:00+05:30" {
		t.Fatalf("callbackAt = %v", got.CallbackAt)
	}
}

func TestWebhookIntegration_CallOutcomeRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		publishErr error
		wantStatus int
	}{
		{name: "missing lead id", body: `{"status":"completed"}`, wantStatus: fiber.StatusBadRequest},
		{name: "missing status", body: `{"leadId":"lead-1"}`, wantStatus: fiber.StatusBadRequest},
		{name: "malformed json", body: `{"leadId":`, wantStatus: fiber.StatusBadRequest},
		{name: "broker down", body: `{"leadId":"lead-1","status":"no_answer"}`, publishErr: errors.New("connection closed"), wantStatus: fiber.StatusServiceUnavailable},
		{name: "disqualified without status", body: `{"leadId":"lead-1","disqualified":true}`, wantStatus: fiber.StatusAccepted},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newWebhookTestApp(t, &stubPublisher{
				publishFn: func(ctx context.Context, queueName string, msg queue.CallOutcomeMessage) error {
					return tt.publishErr
				},
			})

			resp, body := performRequest(t, app, http.MethodPost, "/v1/webhooks/call-outcome", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
		})
	}
}
