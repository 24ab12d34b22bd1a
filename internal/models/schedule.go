package models

import "time"

// Schedule trigger types.
const (
	TriggerOnce     = "once"
	TriggerInterval = "interval"
	TriggerCron     = "cron"
)

// ScheduleDefinition binds a recurring or one-time trigger to a saved
// mission template. LockToken is non-null only while a worker owns one
// execution attempt; NextRunUtc is null exactly when the schedule is
// disabled or exhausted.
type ScheduleDefinition struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	Name            string `gorm:"size:128;not null"`
	TemplateCode    string `gorm:"size:64;index;not null"`
	MapCode         string `gorm:"size:64"`
	Priority        int    `gorm:"default:0"`
	TriggerType     string `gorm:"size:16;not null"`
	CronExpr        string `gorm:"size:64"`
	IntervalMinutes int    `gorm:"default:0"`
	FireAt          *time.Time
	Timezone        string `gorm:"size:64;default:UTC"`

	IsEnabled     bool `gorm:"default:true;index"`
	SkipIfRunning bool `gorm:"default:false"`

	NextRunUtc *time.Time `gorm:"index"`
	LastRunUtc *time.Time
	LockToken  *string `gorm:"size:36"`

	RunCount  int    `gorm:"default:0"`
	SkipCount int    `gorm:"default:0"`
	LastError string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleRun records one outcome of a schedule poll, for diagnostics.
type ScheduleRun struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	ScheduleID  uint      `gorm:"index;not null"`
	Outcome     string    `gorm:"size:24;index"`
	Detail      string    `gorm:"type:text"`
	MissionCode string    `gorm:"size:64"`
	RanAt       time.Time `gorm:"index"`
}

// Schedule run outcomes.
const (
	RunFired   = "fired"
	RunSkipped = "skipped"
	RunFailed  = "failed"
)
