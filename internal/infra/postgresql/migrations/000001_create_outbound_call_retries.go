package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lead-retry-engine/internal/repository"
	"gorm.io/gorm"
)

func createOutboundCallRetriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_outbound_call_retries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RetryRecordModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_retries_due ON outbound_call_retries (COALESCE(busy_override_due_at, next_call_at)) WHERE paused = false`,
				`CREATE INDEX IF NOT EXISTS idx_retries_override_due ON outbound_call_retries (busy_override_due_at) WHERE paused = false AND busy_override_due_at IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RetryRecordModel{})
		},
	}
}
