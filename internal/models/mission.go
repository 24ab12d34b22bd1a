package models

import "time"

// Mission lifecycle states. Transitions move strictly forward except for
// cancellation, which may be requested from any non-terminal state.
const (
	MissionPending        = "pending"
	MissionReadyToAssign  = "ready_to_assign"
	MissionAssigned       = "assigned"
	MissionSubmittedToAmr = "submitted_to_amr"
	MissionExecuting      = "executing"
	MissionCompleted      = "completed"
	MissionFailed         = "failed"
	MissionCancelled      = "cancelled"
)

// Trigger sources for a queued mission.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerWorkflow  = "workflow"
	TriggerAPI       = "api"
	TriggerDirect    = "direct"
)

// Step pass strategies.
const (
	PassAuto   = "AUTO"
	PassManual = "MANUAL"
)

// MissionQueueItem is one submitted or queued mission.
type MissionQueueItem struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	MissionCode   string `gorm:"size:64;uniqueIndex;not null"`
	RequestID     string `gorm:"size:64;uniqueIndex;not null"`
	TemplateCode  string `gorm:"size:64;index"`
	MissionType   string `gorm:"size:32;default:transport"`
	Status        string `gorm:"size:24;index;default:pending"`
	Priority      int    `gorm:"default:0;index"`
	TriggerSource string `gorm:"size:16;default:manual"`
	SourceCode    string `gorm:"size:16"`
	MapCode       string `gorm:"size:64;index"`
	ContainerCode string `gorm:"size:64;index"`
	TargetCell    string `gorm:"size:64"`
	WorkflowID    string `gorm:"size:64;index"`
	WorkflowCode  string `gorm:"size:64"`
	WorkflowName  string `gorm:"size:128"`
	Creator       string `gorm:"size:64"`

	AssignedRobotID *string `gorm:"size:64;index"`

	CurrentStepIndex   int  `gorm:"default:0"`
	WaitingForFeedback bool `gorm:"default:false"`

	ErrorMessage string `gorm:"type:text"`

	CreatedUtc        time.Time `gorm:"index"`
	ProcessedUtc      *time.Time
	SubmittedToAmrUtc *time.Time
	CompletedUtc      *time.Time
	CancelledUtc      *time.Time

	Steps []MissionStep `gorm:"foreignKey:MissionCode;references:MissionCode"`
}

// MissionStep is one waypoint of a mission, walked in Sequence order.
type MissionStep struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	MissionCode   string `gorm:"size:64;index;not null"`
	Sequence      int    `gorm:"not null"`
	Position      string `gorm:"size:64;not null"`
	PassStrategy  string `gorm:"size:16;default:AUTO"`
	WaitingMillis int    `gorm:"default:0"`
}

// MissionHistory is the append-only archive row written when a mission
// reaches a terminal state. Active rows are never physically deleted.
type MissionHistory struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	MissionCode     string    `gorm:"size:64;index;not null"`
	RequestID       string    `gorm:"size:64;index"`
	MissionType     string    `gorm:"size:32"`
	Status          string    `gorm:"size:24;index"`
	Priority        int       `gorm:"default:0"`
	TriggerSource   string    `gorm:"size:16"`
	MapCode         string    `gorm:"size:64;index"`
	AssignedRobotID *string   `gorm:"size:64;index"`
	ErrorMessage    string    `gorm:"type:text"`
	CreatedUtc      time.Time `gorm:"index"`
	ProcessedUtc    *time.Time
	CompletedUtc    *time.Time
	ArchivedUtc     time.Time
}

// Terminal reports whether a mission status is terminal.
func Terminal(status string) bool {
	switch status {
	case MissionCompleted, MissionFailed, MissionCancelled:
		return true
	}
	return false
}
