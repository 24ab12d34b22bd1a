package store

import (
	"fmt"
	"time"

	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
	"gorm.io/gorm"
)

// NextPending atomically claims the highest-priority pending mission in
// the given map (any map when mapCode is empty) and assigns it to the
// robot. Draw order is priority descending, then creation time ascending.
func NextPending(db *gorm.DB, robotID, mapCode string) (*models.MissionQueueItem, error) {
	if robotID == "" {
		return nil, fault.New(fault.ValidationFailed, "robotId is required")
	}

	var claimed models.MissionQueueItem
	err := db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", models.MissionPending)
		if mapCode != "" {
			q = q.Where("map_code = ?", mapCode)
		}
		result := q.Order("priority DESC, created_utc ASC").Limit(1).Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("store: find pending mission: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fault.New(fault.NotFound, "no pending missions in map %q", mapCode)
		}

		now := time.Now().UTC()
		update := tx.Model(&models.MissionQueueItem{}).
			Where("id = ? AND status = ?", claimed.ID, models.MissionPending).
			Updates(map[string]interface{}{
				"status":            models.MissionAssigned,
				"assigned_robot_id": robotID,
				"processed_utc":     now,
			})
		if update.Error != nil {
			return fmt.Errorf("store: claim mission %s: %w", claimed.MissionCode, update.Error)
		}
		if update.RowsAffected == 0 {
			return fault.New(fault.Conflict, "mission %s claimed concurrently", claimed.MissionCode)
		}
		claimed.Status = models.MissionAssigned
		claimed.AssignedRobotID = &robotID
		claimed.ProcessedUtc = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// forwardOf defines the monotonic ordering of lifecycle states.
var forwardOf = map[string]int{
	models.MissionPending:        0,
	models.MissionReadyToAssign:  1,
	models.MissionAssigned:       2,
	models.MissionSubmittedToAmr: 3,
	models.MissionExecuting:      4,
	models.MissionCompleted:      5,
	models.MissionFailed:         5,
	models.MissionCancelled:      5,
}

// Transition moves a mission from one state to the next with optimistic
// concurrency: the update only applies if the record is still in the
// expected prior state. Backward transitions are rejected.
func Transition(db *gorm.DB, missionCode, from, to string, extra map[string]interface{}) error {
	if forwardOf[to] < forwardOf[from] {
		return fault.New(fault.ValidationFailed, "transition %s -> %s moves backward", from, to)
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	switch to {
	case models.MissionSubmittedToAmr:
		updates["submitted_to_amr_utc"] = time.Now().UTC()
	case models.MissionCompleted, models.MissionFailed:
		updates["completed_utc"] = time.Now().UTC()
	}

	result := db.Model(&models.MissionQueueItem{}).
		Where("mission_code = ? AND status = ?", missionCode, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("store: transition %s %s -> %s: %w", missionCode, from, to, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.Conflict, "mission %s is no longer %s", missionCode, from)
	}

	if models.Terminal(to) {
		var item models.MissionQueueItem
		if err := db.Where("mission_code = ?", missionCode).First(&item).Error; err != nil {
			return fmt.Errorf("store: reload %s for archive: %w", missionCode, err)
		}
		return archiveLocked(db, &item)
	}
	return nil
}

// archiveLocked appends a history row for a mission that just reached a
// terminal state. Callers hold the surrounding transaction.
func archiveLocked(tx *gorm.DB, item *models.MissionQueueItem) error {
	hist := models.MissionHistory{
		MissionCode:     item.MissionCode,
		RequestID:       item.RequestID,
		MissionType:     item.MissionType,
		Status:          item.Status,
		Priority:        item.Priority,
		TriggerSource:   item.TriggerSource,
		MapCode:         item.MapCode,
		AssignedRobotID: item.AssignedRobotID,
		ErrorMessage:    item.ErrorMessage,
		CreatedUtc:      item.CreatedUtc,
		ProcessedUtc:    item.ProcessedUtc,
		CompletedUtc:    item.CompletedUtc,
		ArchivedUtc:     time.Now().UTC(),
	}
	if err := tx.Create(&hist).Error; err != nil {
		return fmt.Errorf("store: archive mission %s: %w", item.MissionCode, err)
	}
	return nil
}

// RecordFailure marks a mission failed and stores the last error message
// for diagnostic queries.
func RecordFailure(db *gorm.DB, missionCode, from, message string) error {
	return Transition(db, missionCode, from, models.MissionFailed, map[string]interface{}{
		"error_message": message,
	})
}

// Get returns a mission with its steps loaded.
func Get(db *gorm.DB, missionCode string) (*models.MissionQueueItem, error) {
	var item models.MissionQueueItem
	err := db.Preload("Steps", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("sequence ASC")
	}).Where("mission_code = ?", missionCode).First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fault.New(fault.NotFound, "mission %s not found", missionCode)
		}
		return nil, fmt.Errorf("store: get mission %s: %w", missionCode, err)
	}
	return &item, nil
}

// HasActiveTemplate reports whether any non-terminal mission instantiated
// from the template exists. Used by skip-if-running schedules.
func HasActiveTemplate(db *gorm.DB, templateCode string) (bool, error) {
	var count int64
	err := db.Model(&models.MissionQueueItem{}).
		Where("template_code = ? AND status NOT IN ?", templateCode,
			[]string{models.MissionCompleted, models.MissionFailed, models.MissionCancelled}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("store: count active for template %s: %w", templateCode, err)
	}
	return count > 0, nil
}
