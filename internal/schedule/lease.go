package schedule

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
	"gorm.io/gorm"
)

// AcquireLease atomically sets the schedule's lock token from absent to a
// fresh value. Zero rows affected means another worker holds the lease;
// the caller skips the run and must not touch next_run_utc. This
// conditional write is the only synchronization primitive shared across
// process instances.
func AcquireLease(db *gorm.DB, scheduleID uint) (string, error) {
	token := uuid.NewString()
	result := db.Model(&models.ScheduleDefinition{}).
		Where("id = ? AND lock_token IS NULL", scheduleID).
		Update("lock_token", token)
	if result.Error != nil {
		return "", fmt.Errorf("schedule: acquire lease for %d: %w", scheduleID, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", fault.New(fault.LockNotHeld, "schedule %d is locked by another worker", scheduleID)
	}
	return token, nil
}

// ReleaseLease clears the lock token if this worker still owns it. Always
// called on every exit path of a run, success or failure, so a crash in
// between is the only way a token can linger.
func ReleaseLease(db *gorm.DB, scheduleID uint, token string) error {
	result := db.Model(&models.ScheduleDefinition{}).
		Where("id = ? AND lock_token = ?", scheduleID, token).
		Update("lock_token", nil)
	if result.Error != nil {
		return fmt.Errorf("schedule: release lease for %d: %w", scheduleID, result.Error)
	}
	return nil
}
