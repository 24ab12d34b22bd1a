package db

import (
	"fmt"

	"github.com/zulandar/amrbridge/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.MissionQueueItem{},
		&models.MissionStep{},
		&models.MissionHistory{},
		&models.RobotJobOpportunity{},
		&models.ScheduleDefinition{},
		&models.ScheduleRun{},
		&models.Robot{},
		&models.ManualPause{},
		&models.Area{},
		&models.AreaNode{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
