package domain

import (
	"fmt"
	"strings"
)

// OutcomeKind is the engine-level classification of a post-call report.
type OutcomeKind string

const (
	OutcomeCompleted    OutcomeKind = "completed"
	OutcomeDisqualified OutcomeKind = "disqualified"
	OutcomeBusyCallback OutcomeKind = "busy_callback"
	OutcomeFailed       OutcomeKind = "failed"
	OutcomeIgnored      OutcomeKind = "ignored"
)

var failureStatuses = map[string]struct{}{
	"busy":          {},
	"failed":        {},
	"no_answer":     {},
	"no-answer":     {},
	"not_reachable": {},
}

// CallOutcome is a post-call report from the voice provider.
type CallOutcome struct {
	LeadID       string
	CallID       string
	Status       string
	Availability string
	Disqualified bool
	CallbackAt   *string
	Phone        string
	LeadName     string
	PolicyKey    PolicyKey
}

func (o CallOutcome) Validate() error {
	if strings.TrimSpace(o.LeadID) == "" {
		return fmt.Errorf("%w: leadId is required", ErrValidation)
	}
	return nil
}

// Kind classifies the outcome. Disqualification wins over every status,
// then busy availability, then the raw call status.
func (o CallOutcome) Kind() OutcomeKind {
	status := strings.ToLower(strings.TrimSpace(o.Status))
	availability := strings.ToLower(strings.TrimSpace(o.Availability))

	if o.Disqualified || availability == "junk" {
		return OutcomeDisqualified
	}
	if availability == "busy" || availability == "not_interpretable" {
		if o.CallbackAt != nil && strings.TrimSpace(*o.CallbackAt) != "" {
			return OutcomeBusyCallback
		}
		return OutcomeFailed
	}
	if _, ok := failureStatuses[status]; ok {
		return OutcomeFailed
	}
	if status == "completed" {
		return OutcomeCompleted
	}
	return OutcomeIgnored
}

// FailureStatus is the last status tag written for a failed outcome.
func (o CallOutcome) FailureStatus() string {
	status := strings.ToLower(strings.TrimSpace(o.Status))
	if _, ok := failureStatuses[status]; ok {
		return status
	}
	return StatusBusy
}
