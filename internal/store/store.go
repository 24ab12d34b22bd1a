// Package store implements the mission record store: the durable queue of
// mission requests and their lifecycle state. All uniqueness and state
// transitions are enforced in the database so multiple process instances
// can share one store safely.
package store

import (
	"fmt"
	"time"

	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
	"gorm.io/gorm"
)

// Cancel modes accepted by Cancel.
const (
	CancelForce         = "FORCE"
	CancelNormal        = "NORMAL"
	CancelRedirectStart = "REDIRECT_START"
)

// SubmitRequest carries the fields of one mission submission.
type SubmitRequest struct {
	MissionCode   string
	RequestID     string
	TemplateCode  string
	MissionType   string
	Priority      int
	TriggerSource string
	SourceCode    string
	MapCode       string
	ContainerCode string
	TargetCell    string
	WorkflowID    string
	WorkflowCode  string
	WorkflowName  string
	Creator       string
	Steps         []StepRequest
}

// StepRequest is one waypoint of a submission.
type StepRequest struct {
	Position      string
	PassStrategy  string
	WaitingMillis int
}

// Submit reserves a new mission record in Pending state. The uniqueness
// check and the insert run in one transaction so concurrent submitters
// cannot both reserve the same missionCode or requestId.
func Submit(db *gorm.DB, req SubmitRequest) (*models.MissionQueueItem, error) {
	if req.MissionCode == "" {
		return nil, fault.New(fault.ValidationFailed, "missionCode is required")
	}
	if req.RequestID == "" {
		return nil, fault.New(fault.ValidationFailed, "requestId is required")
	}
	if len(req.Steps) == 0 && req.TemplateCode == "" {
		return nil, fault.New(fault.ValidationFailed, "either steps or templateCode is required")
	}
	for i, s := range req.Steps {
		if s.Position == "" {
			return nil, fault.New(fault.ValidationFailed, "steps[%d].position is required", i)
		}
	}
	if req.TriggerSource == "" {
		req.TriggerSource = models.TriggerManual
	}

	item := &models.MissionQueueItem{
		MissionCode:   req.MissionCode,
		RequestID:     req.RequestID,
		TemplateCode:  req.TemplateCode,
		MissionType:   req.MissionType,
		Status:        models.MissionPending,
		Priority:      req.Priority,
		TriggerSource: req.TriggerSource,
		SourceCode:    req.SourceCode,
		MapCode:       req.MapCode,
		ContainerCode: req.ContainerCode,
		TargetCell:    req.TargetCell,
		WorkflowID:    req.WorkflowID,
		WorkflowCode:  req.WorkflowCode,
		WorkflowName:  req.WorkflowName,
		Creator:       req.Creator,
		CreatedUtc:    time.Now().UTC(),
	}
	if item.MissionType == "" {
		item.MissionType = "transport"
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.MissionQueueItem{}).
			Where("mission_code = ?", req.MissionCode).
			Count(&count).Error; err != nil {
			return fmt.Errorf("store: check mission_code: %w", err)
		}
		if count > 0 {
			return fault.New(fault.Conflict, "missionCode %q already used", req.MissionCode)
		}
		if err := tx.Model(&models.MissionQueueItem{}).
			Where("request_id = ?", req.RequestID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("store: check request_id: %w", err)
		}
		if count > 0 {
			return fault.New(fault.Conflict, "requestId %q already used", req.RequestID)
		}

		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("store: create mission %s: %w", req.MissionCode, err)
		}
		for i, s := range req.Steps {
			strategy := s.PassStrategy
			if strategy == "" {
				strategy = models.PassAuto
			}
			step := models.MissionStep{
				MissionCode:   req.MissionCode,
				Sequence:      i + 1,
				Position:      s.Position,
				PassStrategy:  strategy,
				WaitingMillis: s.WaitingMillis,
			}
			if err := tx.Create(&step).Error; err != nil {
				return fmt.Errorf("store: create step %d for %s: %w", i+1, req.MissionCode, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Cancel marks a mission cancelled. Either missionCode or requestId
// locates the record; cancellation is allowed from any non-terminal state.
func Cancel(db *gorm.DB, missionCode, requestID, cancelMode, reason string) error {
	if missionCode == "" && requestID == "" {
		return fault.New(fault.ValidationFailed, "missionCode or requestId is required")
	}
	switch cancelMode {
	case CancelForce, CancelNormal, CancelRedirectStart:
	default:
		return fault.New(fault.ValidationFailed, "cancelMode %q is not one of FORCE, NORMAL, REDIRECT_START", cancelMode)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var item models.MissionQueueItem
		q := tx.Model(&models.MissionQueueItem{})
		if missionCode != "" {
			q = q.Where("mission_code = ?", missionCode)
		} else {
			q = q.Where("request_id = ?", requestID)
		}
		if err := q.First(&item).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fault.New(fault.NotFound, "mission %s%s not found", missionCode, requestID)
			}
			return fmt.Errorf("store: find mission for cancel: %w", err)
		}
		if models.Terminal(item.Status) {
			// Cancelling an already-terminal record is a no-op.
			return nil
		}

		now := time.Now().UTC()
		msg := fmt.Sprintf("cancelled (%s)", cancelMode)
		if reason != "" {
			msg = fmt.Sprintf("cancelled (%s): %s", cancelMode, reason)
		}
		result := tx.Model(&models.MissionQueueItem{}).
			Where("id = ? AND status = ?", item.ID, item.Status).
			Updates(map[string]interface{}{
				"status":        models.MissionCancelled,
				"cancelled_utc": now,
				"completed_utc": now,
				"error_message": msg,
			})
		if result.Error != nil {
			return fmt.Errorf("store: cancel mission %s: %w", item.MissionCode, result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost the race against another transition; the next poll
			// observes the new state.
			return fault.New(fault.Conflict, "mission %s changed state during cancel", item.MissionCode)
		}
		item.Status = models.MissionCancelled
		item.CancelledUtc = &now
		item.CompletedUtc = &now
		return archiveLocked(tx, &item)
	})
}
