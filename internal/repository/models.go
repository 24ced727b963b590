package repository

import (
	"slices"
	"time"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"github.com/lib/pq"
)

// RetryRecordModel is the persistence model for the outbound_call_retries table.
type RetryRecordModel struct {
	LeadID               string         `gorm:"type:varchar(64);primaryKey"`
	Phone                string         `gorm:"type:varchar(32);not null"`
	LeadName             string         `gorm:"type:varchar(255);not null;default:''"`
	PolicyKey            *string        `gorm:"type:varchar(32)"`
	Attempts             int            `gorm:"not null;default:0"`
	MaxAttempts          int            `gorm:"not null;default:10"`
	NextCallAt           time.Time      `gorm:"type:timestamptz;not null"`
	Paused               bool           `gorm:"not null;default:false"`
	PauseReason          *string        `gorm:"type:varchar(64)"`
	LastStatus           string         `gorm:"type:varchar(64);not null;default:''"`
	DispatchedCallIDs    pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	BusyOverrideAt       *string        `gorm:"type:varchar(64)"`
	BusyOverrideConsumed bool           `gorm:"not null;default:false"`
	BusyOverrideDueAt    *time.Time     `gorm:"type:timestamptz"`
	Version              int64          `gorm:"not null;default:1"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (RetryRecordModel) TableName() string {
	return "outbound_call_retries"
}

// CallAttemptModel is the persistence model for call_attempts.
type CallAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	LeadID        string  `gorm:"type:varchar(64);not null"`
	AttemptNumber int     `gorm:"not null"`
	Trigger       string  `gorm:"type:varchar(20);not null"`
	CallID        *string `gorm:"type:varchar(255)"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (CallAttemptModel) TableName() string {
	return "call_attempts"
}

func retryModelFromDomain(r *domain.RetryRecord) *RetryRecordModel {
	if r == nil {
		return nil
	}

	var policyKey *string
	if r.PolicyKey != "" {
		value := r.PolicyKey.String()
		policyKey = &value
	}

	callIDs := pq.StringArray(slices.Clone(r.DispatchedCallIDs))
	if callIDs == nil {
		callIDs = pq.StringArray{}
	}

	return &RetryRecordModel{
		LeadID:               r.LeadID,
		Phone:                r.Phone,
		LeadName:             r.LeadName,
		PolicyKey:            policyKey,
		Attempts:             r.Attempts,
		MaxAttempts:          r.MaxAttempts,
		NextCallAt:           r.NextCallAt.UTC(),
		Paused:               r.Paused,
		PauseReason:          r.PauseReason,
		LastStatus:           r.LastStatus,
		DispatchedCallIDs:    callIDs,
		BusyOverrideAt:       r.BusyOverrideAt,
		BusyOverrideConsumed: r.BusyOverrideConsumed,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func retryModelToDomain(m *RetryRecordModel) *domain.RetryRecord {
	if m == nil {
		return nil
	}

	policyKey := domain.PolicyDefault
	if m.PolicyKey != nil {
		policyKey = domain.ParsePolicyKey(*m.PolicyKey)
	}

	return &domain.RetryRecord{
		LeadID:               m.LeadID,
		Phone:                m.Phone,
		LeadName:             m.LeadName,
		PolicyKey:            policyKey,
		Attempts:             m.Attempts,
		MaxAttempts:          m.MaxAttempts,
		NextCallAt:           m.NextCallAt.UTC(),
		Paused:               m.Paused,
		PauseReason:          m.PauseReason,
		LastStatus:           m.LastStatus,
		DispatchedCallIDs:    slices.Clone([]string(m.DispatchedCallIDs)),
		BusyOverrideAt:       m.BusyOverrideAt,
		BusyOverrideConsumed: m.BusyOverrideConsumed,
		Version:              m.Version,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.CallAttempt) *CallAttemptModel {
	if a == nil {
		return nil
	}

	return &CallAttemptModel{
		ID:            a.ID,
		LeadID:        a.LeadID,
		AttemptNumber: a.AttemptNumber,
		Trigger:       a.Trigger.String(),
		CallID:        a.CallID,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *CallAttemptModel) *domain.CallAttempt {
	if m == nil {
		return nil
	}

	return &domain.CallAttempt{
		ID:            m.ID,
		LeadID:        m.LeadID,
		AttemptNumber: m.AttemptNumber,
		Trigger:       domain.AttemptTrigger(m.Trigger),
		CallID:        m.CallID,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}
