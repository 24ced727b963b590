package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"github.com/kursadbilgin/lead-retry-engine/internal/queue"
)

// WebhookHandler accepts post-call reports and hands them to the outcome queue.
type WebhookHandler struct {
	publisher queue.Publisher
}

func NewWebhookHandler(publisher queue.Publisher) (*WebhookHandler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("queue publisher is required")
	}
	return &WebhookHandler{publisher: publisher}, nil
}

func RegisterWebhookRoutes(router fiber.Router, publisher queue.Publisher) error {
	h, err := NewWebhookHandler(publisher)
	if err != nil {
		return err
	}

	router.Post("/v1/webhooks/call-outcome", h.CallOutcome)
	return nil
}

func (h *WebhookHandler) CallOutcome(c *fiber.Ctx) error {
	var msg queue.CallOutcomeMessage
	if err := c.BodyParser(&msg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg.LeadID = strings.TrimSpace(msg.LeadID)
	if msg.CorrelationID == "" {
		msg.CorrelationID = requestCorrelationID(c)
	}
	if err := msg.Validate(); err != nil {
		return toHTTPError(fmt.Errorf("%w: %s", domain.ErrValidation, err.Error()))
	}

	if err := h.publisher.Publish(c.Context(), queue.OutcomeQueue, msg); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "failed to enqueue call outcome")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"leadId": msg.LeadID,
		"status": "accepted",
	})
}
