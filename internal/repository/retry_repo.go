package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"gorm.io/gorm"
)

// RetryRepository is the retry record store. Update is a compare-and-swap on
// the record version: concurrent writers of the same lead cannot both win.
// GetDue returns active records whose busy override has come due, and records
// past next_call_at that carry no override still waiting in the future.
type RetryRepository interface {
	GetByLeadID(ctx context.Context, leadID string) (*domain.RetryRecord, error)
	Create(ctx context.Context, r *domain.RetryRecord) error
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryRecord, error)
	Update(ctx context.Context, r *domain.RetryRecord) error
}

type GormRetryRepo struct {
	db       *gorm.DB
	location *time.Location
	now      func() time.Time
}

// NewGormRetryRepo builds the store. loc is the calling zone used to read
// override values stored without an offset.
func NewGormRetryRepo(db *gorm.DB, loc *time.Location) *GormRetryRepo {
	if loc == nil {
		loc = time.UTC
	}
	return &GormRetryRepo{db: db, location: loc, now: time.Now}
}

func (r *GormRetryRepo) GetByLeadID(ctx context.Context, leadID string) (*domain.RetryRecord, error) {
	var model RetryRecordModel
	err := r.db.WithContext(ctx).First(&model, "lead_id = ?", leadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return retryModelToDomain(&model), nil
}

func (r *GormRetryRepo) Create(ctx context.Context, rec *domain.RetryRecord) error {
	if rec.Version == 0 {
		rec.Version = 1
	}
	model := retryModelFromDomain(rec)
	model.BusyOverrideDueAt = r.overrideDueAt(rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	*rec = *retryModelToDomain(model)
	return nil
}

func (r *GormRetryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryRecord, error) {
	var models []RetryRecordModel
	if err := r.dueQuery(ctx, now, limit).Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]domain.RetryRecord, 0, len(models))
	for i := range models {
		records = append(records, *retryModelToDomain(&models[i]))
	}

	return records, nil
}

// dueQuery leaves out records whose override is still in the future, so they
// cannot fill the scan ahead of records that are really due.
func (r *GormRetryRepo) dueQuery(ctx context.Context, now time.Time, limit int) *gorm.DB {
	now = now.UTC()
	return r.db.WithContext(ctx).
		Where("paused = ?", false).
		Where("busy_override_due_at <= ? OR (busy_override_due_at IS NULL AND next_call_at <= ?)", now, now).
		Order("COALESCE(busy_override_due_at, next_call_at) ASC").
		Limit(limit)
}

// overrideDueAt is the instant a pending override should be acted on. An
// unparsable value is due at once so the next cycle discards it.
func (r *GormRetryRepo) overrideDueAt(rec *domain.RetryRecord) *time.Time {
	if !rec.HasPendingOverride() {
		return nil
	}

	parsed := domain.ParseOverrideInstant(rec.BusyOverrideAt, r.location)
	switch parsed.State {
	case domain.OverrideValid:
		return &parsed.At
	case domain.OverrideUnparsable:
		now := r.now().UTC()
		return &now
	default:
		return nil
	}
}

func (r *GormRetryRepo) Update(ctx context.Context, rec *domain.RetryRecord) error {
	expected := rec.Version
	model := retryModelFromDomain(rec)
	updatedAt := r.now().UTC()

	result := r.db.WithContext(ctx).
		Model(&RetryRecordModel{}).
		Where("lead_id = ? AND version = ?", rec.LeadID, expected).
		Updates(map[string]any{
			"phone":                  model.Phone,
			"lead_name":              model.LeadName,
			"policy_key":             nullable(model.PolicyKey),
			"attempts":               model.Attempts,
			"max_attempts":           model.MaxAttempts,
			"next_call_at":           model.NextCallAt,
			"paused":                 model.Paused,
			"pause_reason":           nullable(model.PauseReason),
			"last_status":            model.LastStatus,
			"dispatched_call_ids":    model.DispatchedCallIDs,
			"busy_override_at":       nullable(model.BusyOverrideAt),
			"busy_override_consumed": model.BusyOverrideConsumed,
			"busy_override_due_at":   nullableTime(r.overrideDueAt(rec)),
			"version":                expected + 1,
			"updated_at":             updatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&RetryRecordModel{}).
			Where("lead_id = ?", rec.LeadID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	rec.Version = expected + 1
	rec.UpdatedAt = updatedAt
	return nil
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
