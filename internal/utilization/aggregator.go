package utilization

import (
	"fmt"
	"time"

	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
	"gorm.io/gorm"
)

// chargingMissionType marks missions whose execution time counts as
// charging rather than working.
const chargingMissionType = "charging"

// Aggregator computes utilization reports from the shared store.
type Aggregator struct {
	db *gorm.DB

	// now bounds open intervals; swapped in tests.
	now func() time.Time
}

// New builds an Aggregator.
func New(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db, now: time.Now}
}

// Report aggregates one robot's utilization over [start, end).
func (a *Aggregator) Report(robotID string, start, end time.Time, g Granularity) (*Report, error) {
	if robotID == "" {
		return nil, fault.New(fault.ValidationFailed, "robotId is required")
	}
	if !end.After(start) {
		return nil, fault.New(fault.ValidationFailed, "period end must be after start")
	}
	if g != ByHour && g != ByDay {
		return nil, fault.New(fault.ValidationFailed, "granularity %q is not hour or day", g)
	}

	working, charging, err := a.missionIntervals(robotID, start, end)
	if err != nil {
		return nil, err
	}
	pauses, err := a.pauseIntervals(robotID, start, end)
	if err != nil {
		return nil, err
	}
	return Compute(robotID, start, end, g, working, pauses, charging), nil
}

// missionIntervals collects execution intervals from the active queue and
// the archive, deduplicated by mission code. Interval start is the
// earliest recorded of processed/submitted/created; end is the completion
// time, or the query bound for missions still running.
func (a *Aggregator) missionIntervals(robotID string, start, end time.Time) (working, charging []Interval, err error) {
	bound := a.now().UTC()
	if end.Before(bound) {
		bound = end
	}

	seen := make(map[string]bool)
	add := func(missionCode, missionType string, createdUtc time.Time, processed, submitted, completed *time.Time) {
		if seen[missionCode] {
			return
		}
		seen[missionCode] = true

		ivStart := createdUtc
		if submitted != nil && submitted.Before(ivStart) {
			ivStart = *submitted
		}
		if processed != nil && processed.Before(ivStart) {
			ivStart = *processed
		}
		ivEnd := bound
		if completed != nil {
			ivEnd = *completed
		}
		if !ivEnd.After(ivStart) || !ivEnd.After(start) || !ivStart.Before(end) {
			return
		}
		iv := Interval{Start: ivStart, End: ivEnd, MissionCode: missionCode}
		if missionType == chargingMissionType {
			charging = append(charging, iv)
		} else {
			working = append(working, iv)
		}
	}

	var queue []models.MissionQueueItem
	err = a.db.Where("assigned_robot_id = ? AND status IN ?", robotID,
		[]string{models.MissionExecuting, models.MissionSubmittedToAmr, models.MissionCompleted}).
		Find(&queue).Error
	if err != nil {
		return nil, nil, fmt.Errorf("utilization: queue intervals for %s: %w", robotID, err)
	}
	for _, it := range queue {
		add(it.MissionCode, it.MissionType, it.CreatedUtc, it.ProcessedUtc, it.SubmittedToAmrUtc, it.CompletedUtc)
	}

	var history []models.MissionHistory
	err = a.db.Where("assigned_robot_id = ? AND status = ?", robotID, models.MissionCompleted).
		Find(&history).Error
	if err != nil {
		return nil, nil, fmt.Errorf("utilization: history intervals for %s: %w", robotID, err)
	}
	for _, it := range history {
		add(it.MissionCode, it.MissionType, it.CreatedUtc, it.ProcessedUtc, nil, it.CompletedUtc)
	}
	return working, charging, nil
}

// pauseIntervals collects manual pauses for the robot that intersect the
// period. Open pauses are bounded at the query time.
func (a *Aggregator) pauseIntervals(robotID string, start, end time.Time) ([]Interval, error) {
	bound := a.now().UTC()
	if end.Before(bound) {
		bound = end
	}

	var rows []models.ManualPause
	err := a.db.Where("robot_id = ? AND started_utc < ?", robotID, end).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("utilization: pauses for %s: %w", robotID, err)
	}

	var out []Interval
	for _, p := range rows {
		pEnd := bound
		if p.EndedUtc != nil {
			pEnd = *p.EndedUtc
		}
		if !pEnd.After(start) {
			continue
		}
		out = append(out, Interval{Start: p.StartedUtc, End: pEnd, MissionCode: p.MissionCode})
	}
	return out, nil
}
