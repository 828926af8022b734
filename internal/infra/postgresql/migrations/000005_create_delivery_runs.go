package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryRunsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_delivery_runs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryRunModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_delivery_runs_schedule_triggered ON delivery_runs (schedule_id, triggered_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryRunModel{})
		},
	}
}
