package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultMaxAttempts is the attempt ceiling applied when a record does not carry one.
const DefaultMaxAttempts = 10

// PolicyKey selects the calling policy variant for a lead.
type PolicyKey string

const (
	PolicyDefault  PolicyKey = "default"
	PolicyPriority PolicyKey = "priority"
)

func (k PolicyKey) String() string { return string(k) }

func (k PolicyKey) IsValid() bool {
	switch k {
	case PolicyDefault, PolicyPriority:
		return true
	}
	return false
}

// ParsePolicyKey never fails: unknown or empty keys resolve to PolicyDefault.
func ParsePolicyKey(s string) PolicyKey {
	k := PolicyKey(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return PolicyDefault
	}
	return k
}

// Last status tags written to RetryRecord.LastStatus.
const (
	StatusScheduled          = "scheduled"
	StatusBusy               = "busy"
	StatusDispatchFailed     = "dispatch_failed"
	StatusMaxAttemptsReached = "max_attempts_reached"
	StatusCallCompleted      = "call_completed"
	StatusLeadDisqualified   = "lead_disqualified"
	StatusBusyOverrideCalled = "busy_override_called"
	StatusRescheduled        = "rescheduled"
)

// Action describes what one processing cycle did with one record.
type Action string

const (
	ActionPausedMaxAttempts        Action = "paused_max_attempts"
	ActionBusyOverrideCallPlaced   Action = "busy_override_call_placed"
	ActionBusyOverridePending      Action = "busy_override_pending"
	ActionNotDue                   Action = "not_due"
	ActionRescheduledDueToCutoff   Action = "rescheduled_due_to_cutoff"
	ActionRescheduledOutsideWindow Action = "rescheduled_outside_window"
	ActionCallScheduled            Action = "call_scheduled"
	ActionSkippedPaused            Action = "skipped_paused"
	ActionSkippedClaimed           Action = "skipped_claimed"
	ActionFailed                   Action = "failed"
)

func (a Action) String() string { return string(a) }

// RetryRecord is the retry state tracked for one lead.
type RetryRecord struct {
	LeadID               string
	Phone                string
	LeadName             string
	PolicyKey            PolicyKey
	Attempts             int
	MaxAttempts          int
	NextCallAt           time.Time
	Paused               bool
	PauseReason          *string
	LastStatus           string
	DispatchedCallIDs    []string
	BusyOverrideAt       *string
	BusyOverrideConsumed bool
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (r *RetryRecord) Validate() error {
	if strings.TrimSpace(r.LeadID) == "" {
		return fmt.Errorf("%w: leadId is required", ErrValidation)
	}
	if r.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be >= 0", ErrValidation)
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%w: maxAttempts must be >= 1", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing the call id slice.
func (r *RetryRecord) Clone() *RetryRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.DispatchedCallIDs = slices.Clone(r.DispatchedCallIDs)
	if r.BusyOverrideAt != nil {
		v := *r.BusyOverrideAt
		c.BusyOverrideAt = &v
	}
	if r.PauseReason != nil {
		v := *r.PauseReason
		c.PauseReason = &v
	}
	return &c
}

// IsDue reports whether the record belongs to the due set at now.
func (r *RetryRecord) IsDue(now time.Time) bool {
	return !r.Paused && !r.NextCallAt.After(now)
}

// AttemptsExhausted reports whether the attempt ceiling has been reached.
func (r *RetryRecord) AttemptsExhausted() bool {
	return r.Attempts >= r.effectiveMaxAttempts()
}

func (r *RetryRecord) effectiveMaxAttempts() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// AppendCallID records a placed call. Empty and already-recorded ids are ignored.
func (r *RetryRecord) AppendCallID(callID string) {
	callID = strings.TrimSpace(callID)
	if callID == "" || slices.Contains(r.DispatchedCallIDs, callID) {
		return
	}
	r.DispatchedCallIDs = append(r.DispatchedCallIDs, callID)
}

// Pause moves the record to its terminal state.
func (r *RetryRecord) Pause(reason string) {
	r.Paused = true
	r.LastStatus = reason
	r.PauseReason = &reason
}

// HasPendingOverride reports whether a busy override is set and not yet consumed.
func (r *RetryRecord) HasPendingOverride() bool {
	return r.BusyOverrideAt != nil && !r.BusyOverrideConsumed
}

// ConsumeOverride marks the busy override as acted on and clears it.
func (r *RetryRecord) ConsumeOverride() {
	r.BusyOverrideAt = nil
	r.BusyOverrideConsumed = true
}
