package store

import (
	"fmt"

	"github.com/zulandar/amrbridge/internal/models"
	"gorm.io/gorm"
)

// DefaultQueryLimit applies when a caller does not specify a limit.
const DefaultQueryLimit = 10

// sourceCodeNames maps numeric source codes from upstream callers to
// their canonical names. Unknown or absent codes default to INTERFACE.
var sourceCodeNames = map[int]string{
	1: "PDA",
	2: "INTERFACE",
	3: "PDA",
	4: "DEVICE",
	5: "MLS",
	6: "SELF",
	7: "EVENT",
}

// SourceCodeName resolves a numeric source code to its name.
func SourceCodeName(code int) string {
	if name, ok := sourceCodeNames[code]; ok {
		return name
	}
	return "INTERFACE"
}

// QueryFilter selects mission records. Zero values mean "no filter".
type QueryFilter struct {
	MissionCode   string
	Status        string
	RobotID       string
	WorkflowID    string
	WorkflowCode  string
	WorkflowName  string
	ContainerCode string
	TargetCell    string
	MapCodes      []string
	Creator       string
	SourceCode    int
	Limit         int
}

// Query returns mission records matching the filter, ordered by creation
// time descending.
func Query(db *gorm.DB, f QueryFilter) ([]models.MissionQueueItem, error) {
	q := db.Model(&models.MissionQueueItem{})
	if f.MissionCode != "" {
		q = q.Where("mission_code = ?", f.MissionCode)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.RobotID != "" {
		q = q.Where("assigned_robot_id = ?", f.RobotID)
	}
	if f.WorkflowID != "" {
		q = q.Where("workflow_id = ?", f.WorkflowID)
	}
	if f.WorkflowCode != "" {
		q = q.Where("workflow_code = ?", f.WorkflowCode)
	}
	if f.WorkflowName != "" {
		q = q.Where("workflow_name = ?", f.WorkflowName)
	}
	if f.ContainerCode != "" {
		q = q.Where("container_code = ?", f.ContainerCode)
	}
	if f.TargetCell != "" {
		q = q.Where("target_cell = ?", f.TargetCell)
	}
	if len(f.MapCodes) > 0 {
		q = q.Where("map_code IN ?", f.MapCodes)
	}
	if f.Creator != "" {
		q = q.Where("creator = ?", f.Creator)
	}
	if f.SourceCode != 0 {
		q = q.Where("source_code = ?", SourceCodeName(f.SourceCode))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var items []models.MissionQueueItem
	if err := q.Order("created_utc DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("store: query missions: %w", err)
	}
	return items, nil
}
