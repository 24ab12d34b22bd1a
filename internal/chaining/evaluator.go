// Package chaining decides, when a robot finishes a mission, whether to
// chain another pending job in the same map, send the robot back toward
// its original map, or leave it idle.
package chaining

import (
	"fmt"
	"time"

	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
	"github.com/zulandar/amrbridge/internal/store"
	"gorm.io/gorm"
)

// Completion describes one robot mission-completion event.
type Completion struct {
	RobotID         string
	MissionCode     string
	CurrentMapCode  string
	OriginalMapCode string
	NodeCode        string
}

// Result is the recorded outcome of one evaluation.
type Result struct {
	Decision           string
	Reason             string
	ChainedMissionCode string
}

// Evaluator applies the opportunistic chaining policy over the store.
type Evaluator struct {
	db  *gorm.DB
	cfg config.ChainingConfig
}

// New builds an Evaluator.
func New(db *gorm.DB, cfg config.ChainingConfig) *Evaluator {
	return &Evaluator{db: db, cfg: cfg}
}

// Evaluate runs the chaining policy for one completion event. It is
// idempotent per robot and completed mission: once a decision is recorded
// for that pair, re-evaluating returns the recorded decision without
// chaining a second job.
func (e *Evaluator) Evaluate(c Completion) (*Result, error) {
	if c.RobotID == "" {
		return nil, fault.New(fault.ValidationFailed, "robotId is required")
	}
	if c.MissionCode == "" {
		return nil, fault.New(fault.ValidationFailed, "missionCode is required")
	}

	// A recorded non-pending decision for this completion wins.
	var prior models.RobotJobOpportunity
	err := e.db.Where("robot_id = ? AND completed_mission_code = ?", c.RobotID, c.MissionCode).
		First(&prior).Error
	if err == nil && prior.Decision != models.DecisionPending {
		return &Result{
			Decision:           prior.Decision,
			Reason:             prior.Reason,
			ChainedMissionCode: prior.ChainedMissionCode,
		}, nil
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("chaining: load prior decision: %w", err)
	}

	opp := prior
	if err == gorm.ErrRecordNotFound {
		opp = models.RobotJobOpportunity{
			RobotID:              c.RobotID,
			CompletedMissionCode: c.MissionCode,
			CurrentMapCode:       c.CurrentMapCode,
			OriginalMapCode:      c.OriginalMapCode,
			NodeCode:             c.NodeCode,
			ConsecutiveJobsInMap: e.consecutiveSoFar(c),
			Decision:             models.DecisionPending,
		}
		if err := e.db.Create(&opp).Error; err != nil {
			return nil, fmt.Errorf("chaining: create opportunity: %w", err)
		}
	}

	result := e.decide(&opp)
	if err := e.db.Model(&models.RobotJobOpportunity{}).Where("id = ?", opp.ID).
		Updates(map[string]interface{}{
			"decision":                result.Decision,
			"reason":                  result.Reason,
			"chained_mission_code":    result.ChainedMissionCode,
			"consecutive_jobs_in_map": opp.ConsecutiveJobsInMap,
			"updated_at":              time.Now().UTC(),
		}).Error; err != nil {
		return nil, fmt.Errorf("chaining: record decision: %w", err)
	}
	return result, nil
}

// consecutiveSoFar carries the same-map chain counter forward from the
// previous opportunity, resetting when the robot changed maps.
func (e *Evaluator) consecutiveSoFar(c Completion) int {
	var last models.RobotJobOpportunity
	err := e.db.Where("robot_id = ? AND completed_mission_code <> ?", c.RobotID, c.MissionCode).
		Order("id DESC").First(&last).Error
	if err != nil {
		return 0
	}
	if last.Decision == models.DecisionJobChained && last.CurrentMapCode == c.CurrentMapCode {
		return last.ConsecutiveJobsInMap
	}
	return 0
}

// decide applies the policy: chain while under the per-map limit and a
// compatible pending job exists; otherwise route back toward the original
// map with the appropriate decision.
func (e *Evaluator) decide(opp *models.RobotJobOpportunity) *Result {
	max := e.cfg.MaxJobsForMap(opp.CurrentMapCode)
	if max <= 0 {
		return &Result{
			Decision: models.DecisionReturnToOriginal,
			Reason:   fmt.Sprintf("chaining disabled for map %s", opp.CurrentMapCode),
		}
	}
	if opp.ConsecutiveJobsInMap >= max {
		return &Result{
			Decision: models.DecisionLimitReached,
			Reason: fmt.Sprintf("robot %s reached the limit of %d consecutive jobs in map %s; returning toward %s",
				opp.RobotID, max, opp.CurrentMapCode, opp.OriginalMapCode),
		}
	}

	next, err := store.NextPending(e.db, opp.RobotID, opp.CurrentMapCode)
	if err == nil {
		opp.ConsecutiveJobsInMap++
		return &Result{
			Decision: models.DecisionJobChained,
			Reason: fmt.Sprintf("chained mission %s in map %s (%d of %d)",
				next.MissionCode, opp.CurrentMapCode, opp.ConsecutiveJobsInMap, max),
			ChainedMissionCode: next.MissionCode,
		}
	}
	if !fault.IsKind(err, fault.NotFound) {
		return &Result{
			Decision: models.DecisionPending,
			Reason:   fmt.Sprintf("queue draw failed, will retry: %v", err),
		}
	}

	// Same-map options exhausted; consider other maps only when enabled.
	if e.cfg.CrossMapEnabled && opp.OriginalMapCode != "" && opp.OriginalMapCode != opp.CurrentMapCode {
		next, err := store.NextPending(e.db, opp.RobotID, opp.OriginalMapCode)
		if err == nil {
			return &Result{
				Decision: models.DecisionJobChained,
				Reason: fmt.Sprintf("no jobs in map %s; chained mission %s in original map %s",
					opp.CurrentMapCode, next.MissionCode, opp.OriginalMapCode),
				ChainedMissionCode: next.MissionCode,
			}
		}
	}

	return &Result{
		Decision: models.DecisionNoJobsAvailable,
		Reason: fmt.Sprintf("no compatible pending jobs in map %s; returning toward %s",
			opp.CurrentMapCode, opp.OriginalMapCode),
	}
}
