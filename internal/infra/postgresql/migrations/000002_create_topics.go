package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"gorm.io/gorm"
)

func createTopicsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_topics",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.TopicModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TopicModel{})
		},
	}
}
