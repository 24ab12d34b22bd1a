package models

import "time"

// Chaining decisions recorded on a RobotJobOpportunity.
const (
	DecisionPending          = "pending"
	DecisionJobChained       = "job_chained"
	DecisionReturnToOriginal = "return_to_original"
	DecisionLimitReached     = "limit_reached"
	DecisionNoJobsAvailable  = "no_jobs_available"
)

// RobotJobOpportunity is the per-robot snapshot evaluated when a mission
// completes. A new row supersedes the previous one; rows are not deleted.
type RobotJobOpportunity struct {
	ID                   uint   `gorm:"primaryKey;autoIncrement"`
	RobotID              string `gorm:"size:64;index;not null"`
	CompletedMissionCode string `gorm:"size:64;index;not null"`
	CurrentMapCode       string `gorm:"size:64"`
	OriginalMapCode      string `gorm:"size:64"`
	NodeCode             string `gorm:"size:64"`
	ConsecutiveJobsInMap int    `gorm:"default:0"`
	Decision             string `gorm:"size:24;default:pending"`
	Reason               string `gorm:"size:255"`
	ChainedMissionCode   string `gorm:"size:64"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
