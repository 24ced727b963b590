package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lead-retry-engine/internal/repository"
	"gorm.io/gorm"
)

func createCallAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_call_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CallAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_call_attempts_lead_id ON call_attempts (lead_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CallAttemptModel{})
		},
	}
}
