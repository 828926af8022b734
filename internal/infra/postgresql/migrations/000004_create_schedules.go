package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"gorm.io/gorm"
)

func createSchedulesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_schedules",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ScheduleModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (next_due_at) WHERE active = true AND orphaned_at IS NULL`,
				`ALTER TABLE schedules DROP CONSTRAINT IF EXISTS chk_schedules_time_of_day`,
				`ALTER TABLE schedules ADD CONSTRAINT chk_schedules_time_of_day CHECK ((frequency = 'daily' AND time_of_day <> '') OR (frequency = 'hourly' AND time_of_day = ''))`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ScheduleModel{})
		},
	}
}
