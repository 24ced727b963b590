package domain

import "time"

// AttemptTrigger records why a call was placed.
type AttemptTrigger string

const (
	TriggerScheduled    AttemptTrigger = "scheduled"
	TriggerBusyOverride AttemptTrigger = "busy_override"
)

func (t AttemptTrigger) String() string { return string(t) }

// CallAttempt records a single dispatch attempt for a lead. Busy override
// calls do not count against the attempt budget and carry AttemptNumber 0.
type CallAttempt struct {
	ID            string
	LeadID        string
	AttemptNumber int
	Trigger       AttemptTrigger
	CallID        *string
	Error         *string
	CreatedAt     time.Time
}
