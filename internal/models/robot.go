package models

import "time"

// Robot is the last-known state of one AMR, refreshed from gateway polls.
type Robot struct {
	RobotID      string `gorm:"primaryKey;size:64"`
	RobotType    string `gorm:"size:32"`
	MapCode      string `gorm:"size:64;index"`
	FloorNumber  int    `gorm:"default:1"`
	NodeCode     string `gorm:"size:64"`
	BatteryLevel int    `gorm:"default:100"`
	Status       int    `gorm:"default:0"`
	UpdatedAt    time.Time
}

// ManualPause is one operator-initiated pause interval for a robot.
// EndedUtc is null while the pause is still open.
type ManualPause struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	RobotID     string    `gorm:"size:64;index;not null"`
	MissionCode string    `gorm:"size:64;index"`
	Reason      string    `gorm:"size:255"`
	StartedUtc  time.Time `gorm:"index"`
	EndedUtc    *time.Time
}
