package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
)

// CallOutcomeMessage is the broker payload for a post-call report.
type CallOutcomeMessage struct {
	LeadID        string  `json:"leadId"`
	CallID        string  `json:"callId,omitempty"`
	Status        string  `json:"status"`
	Availability  string  `json:"availability,omitempty"`
	Disqualified  bool    `json:"disqualified,omitempty"`
	CallbackAt    *string `json:"callbackAt,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	LeadName      string  `json:"leadName,omitempty"`
	PolicyKey     string  `json:"policyKey,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
}

func (m CallOutcomeMessage) Validate() error {
	if strings.TrimSpace(m.LeadID) == "" {
		return fmt.Errorf("leadId is required")
	}
	if strings.TrimSpace(m.Status) == "" && strings.TrimSpace(m.Availability) == "" && !m.Disqualified {
		return fmt.Errorf("status or availability is required")
	}
	return nil
}

func (m CallOutcomeMessage) ToDomain() domain.CallOutcome {
	return domain.CallOutcome{
		LeadID:       strings.TrimSpace(m.LeadID),
		CallID:       strings.TrimSpace(m.CallID),
		Status:       m.Status,
		Availability: m.Availability,
		Disqualified: m.Disqualified,
		CallbackAt:   m.CallbackAt,
		Phone:        strings.TrimSpace(m.Phone),
		LeadName:     strings.TrimSpace(m.LeadName),
		PolicyKey:    domain.ParsePolicyKey(m.PolicyKey),
	}
}
