package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"gorm.io/gorm"
)

func createPhoneNumbersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_phone_numbers",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PhoneNumberModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_phone_numbers_owner_phone ON phone_numbers (owner_id, e164_phone)`,
				`CREATE INDEX IF NOT EXISTS idx_phone_numbers_owner_verified ON phone_numbers (owner_id) WHERE state = 'verified'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PhoneNumberModel{})
		},
	}
}
