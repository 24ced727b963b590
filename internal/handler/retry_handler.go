package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"github.com/kursadbilgin/lead-retry-engine/internal/service"
)

const cronSecretHeader = "X-Cron-Secret"

type RetryService interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (*domain.RetryRecord, error)
	Get(ctx context.Context, leadID string) (*domain.RetryRecord, error)
	Attempts(ctx context.Context, leadID string) ([]domain.CallAttempt, error)
	ApplyOverride(ctx context.Context, leadID string, instant string) (*domain.RetryRecord, error)
	Cancel(ctx context.Context, leadID string, reason string) (*domain.RetryRecord, error)
	RunCycle(ctx context.Context) (service.CycleReport, error)
}

type RetryHandler struct {
	service    RetryService
	location   *time.Location
	cronSecret string
}

func NewRetryHandler(service RetryService, location *time.Location, cronSecret string) (*RetryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("retry service is required")
	}
	if location == nil {
		location = time.UTC
	}
	return &RetryHandler{
		service:    service,
		location:   location,
		cronSecret: strings.TrimSpace(cronSecret),
	}, nil
}

func RegisterRetryRoutes(router fiber.Router, service RetryService, location *time.Location, cronSecret string) error {
	h, err := NewRetryHandler(service, location, cronSecret)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/retries", h.Enqueue)
	v1.Get("/retries/:leadId", h.GetRetry)
	v1.Post("/retries/:leadId/override", h.ApplyOverride)
	v1.Post("/retries/:leadId/cancel", h.Cancel)
	v1.Post("/cycles", h.RunCycle)

	return nil
}

type enqueueRequest struct {
	LeadID    string `json:"leadId"`
	Phone     string `json:"phone"`
	LeadName  string `json:"leadName"`
	PolicyKey string `json:"policyKey"`
	Reason    string `json:"reason"`
}

type overrideRequest struct {
	At string `json:"at"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type retryResponse struct {
	LeadID               string    `json:"leadId"`
	Phone                string    `json:"phone"`
	LeadName             string    `json:"leadName,omitempty"`
	PolicyKey            string    `json:"policyKey"`
	Attempts             int       `json:"attempts"`
	MaxAttempts          int       `json:"maxAttempts"`
	NextCallAt           time.Time `json:"nextCallAt"`
	Paused               bool      `json:"paused"`
	PauseReason          *string   `json:"pauseReason,omitempty"`
	LastStatus           string    `json:"lastStatus"`
	DispatchedCallIDs    []string  `json:"dispatchedCallIds"`
	BusyOverrideAt       *string   `json:"busyOverrideAt,omitempty"`
	BusyOverrideConsumed bool      `json:"busyOverrideConsumed"`
	CreatedAt            time.Time `json:"createdAt,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int       `json:"attemptNumber"`
	Trigger       string    `json:"trigger"`
	CallID        *string   `json:"callId,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type retryDetailResponse struct {
	Retry    retryResponse     `json:"retry"`
	Attempts []attemptResponse `json:"attempts"`
}

type cycleResultResponse struct {
	LeadID string `json:"leadId"`
	Action string `json:"action"`
	CallID string `json:"callId,omitempty"`
	Error  string `json:"error,omitempty"`
}

type cycleResponse struct {
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	Processed  int                   `json:"processed"`
	Counts     map[string]int        `json:"counts"`
	Results    []cycleResultResponse `json:"results"`
}

func (h *RetryHandler) Enqueue(c *fiber.Ctx) error {
	var req enqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	rec, err := h.service.Enqueue(c.Context(), service.EnqueueRequest{
		LeadID:      req.LeadID,
		Phone:       req.Phone,
		DisplayName: req.LeadName,
		PolicyKey:   domain.ParsePolicyKey(req.PolicyKey),
		Reason:      req.Reason,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toRetryResponse(rec))
}

func (h *RetryHandler) GetRetry(c *fiber.Ctx) error {
	leadID := strings.TrimSpace(c.Params("leadId"))

	rec, err := h.service.Get(c.Context(), leadID)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.service.Attempts(c.Context(), leadID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(retryDetailResponse{
		Retry:    toRetryResponse(rec),
		Attempts: toAttemptResponses(attempts),
	})
}

func (h *RetryHandler) ApplyOverride(c *fiber.Ctx) error {
	var req overrideRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	raw := strings.TrimSpace(req.At)
	if parsed := domain.ParseOverrideInstant(&raw, h.location); parsed.State != domain.OverrideValid {
		return toHTTPError(fmt.Errorf("%w: at must be an ISO-8601 instant", domain.ErrValidation))
	}

	rec, err := h.service.ApplyOverride(c.Context(), strings.TrimSpace(c.Params("leadId")), raw)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRetryResponse(rec))
}

func (h *RetryHandler) Cancel(c *fiber.Ctx) error {
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	rec, err := h.service.Cancel(c.Context(), strings.TrimSpace(c.Params("leadId")), req.Reason)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRetryResponse(rec))
}

func (h *RetryHandler) RunCycle(c *fiber.Ctx) error {
	if h.cronSecret != "" {
		got := c.Get(cronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cronSecret)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid cron secret")
		}
	}

	report, err := h.service.RunCycle(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	counts := make(map[string]int)
	for action, n := range report.Counts() {
		counts[action.String()] = n
	}
	results := make([]cycleResultResponse, 0, len(report.Results))
	for _, r := range report.Results {
		results = append(results, cycleResultResponse{
			LeadID: r.LeadID,
			Action: r.Action.String(),
			CallID: r.CallID,
			Error:  r.Error,
		})
	}

	return c.Status(fiber.StatusOK).JSON(cycleResponse{
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Processed:  len(report.Results),
		Counts:     counts,
		Results:    results,
	})
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toRetryResponse(r *domain.RetryRecord) retryResponse {
	if r == nil {
		return retryResponse{}
	}

	callIDs := r.DispatchedCallIDs
	if callIDs == nil {
		callIDs = []string{}
	}

	return retryResponse{
		LeadID:               r.LeadID,
		Phone:                r.Phone,
		LeadName:             r.LeadName,
		PolicyKey:            r.PolicyKey.String(),
		Attempts:             r.Attempts,
		MaxAttempts:          r.MaxAttempts,
		NextCallAt:           r.NextCallAt,
		Paused:               r.Paused,
		PauseReason:          r.PauseReason,
		LastStatus:           r.LastStatus,
		DispatchedCallIDs:    callIDs,
		BusyOverrideAt:       r.BusyOverrideAt,
		BusyOverrideConsumed: r.BusyOverrideConsumed,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func toAttemptResponses(attempts []domain.CallAttempt) []attemptResponse {
	responses := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		responses = append(responses, attemptResponse{
			ID:            a.ID,
			AttemptNumber: a.AttemptNumber,
			Trigger:       a.Trigger.String(),
			CallID:        a.CallID,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt,
		})
	}
	return responses
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrCycleInProgress):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
