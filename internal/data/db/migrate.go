package db

import (
	"gorm.io/gorm"

	"github.com/sullysaurus/venues/internal/domain"
)

func AutoMigrateAll(handle *gorm.DB) error {
	return handle.AutoMigrate(
		&domain.Venue{},
		&domain.PipelineRun{},
	)
}
