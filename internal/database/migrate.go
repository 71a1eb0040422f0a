package database

import (
	"gorm.io/gorm"

	deviceRepo "github.com/mindstream-labs/mindstream/internal/repository/device"
	sessionRepo "github.com/mindstream-labs/mindstream/internal/repository/session"
)

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&deviceRepo.RegisteredDevice{},
		&sessionRepo.SessionEntity{},
		&sessionRepo.FileEntity{},
		&sessionRepo.ExportEntity{},
	)
}
