package tracker

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
	"gorm.io/gorm"
)

// Tracker drives per-mission execution state. Runtime state (first query
// time, step walk, waiting flags) lives in per-mission entries with their
// own locks; the polling loop and interactive queries touch different
// missions without contending.
type Tracker struct {
	db  *gorm.DB
	cfg config.TrackerConfig

	mu       sync.Mutex
	missions map[string]*missionState

	// now is swapped in tests to drive elapsed time.
	now func() time.Time
}

// missionState is the runtime walk state for one tracked mission.
type missionState struct {
	mu sync.Mutex

	firstQueryAt  time.Time
	stepIndex     int
	stepStartedAt time.Time
	waiting       bool
	fed           map[int]bool
	cache         areaCache
}

// New builds a Tracker over the given store connection.
func New(db *gorm.DB, cfg config.TrackerConfig) *Tracker {
	return &Tracker{
		db:       db,
		cfg:      cfg,
		missions: make(map[string]*missionState),
		now:      time.Now,
	}
}

// state returns the runtime entry for a mission, creating it on first use.
func (t *Tracker) state(missionCode string) *missionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.missions[missionCode]
	if !ok {
		st = &missionState{fed: make(map[int]bool)}
		t.missions[missionCode] = st
	}
	return st
}

// Status returns the mission's current status code. The first call starts
// the elapsed-time clock; a cancelled record overrides the progression.
func (t *Tracker) Status(missionCode string) (int, error) {
	if missionCode == "" {
		return 0, fault.New(fault.ValidationFailed, "missionCode is required")
	}

	var item models.MissionQueueItem
	if err := t.db.Where("mission_code = ?", missionCode).First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, fault.New(fault.NotFound, "mission %s not found", missionCode)
		}
		return 0, fmt.Errorf("tracker: load mission %s: %w", missionCode, err)
	}

	now := t.now()
	if item.Status == models.MissionCancelled {
		cancelledAt := now
		if item.CancelledUtc != nil {
			cancelledAt = *item.CancelledUtc
		}
		return StatusAfterCancel(now.Sub(cancelledAt), t.cfg), nil
	}

	st := t.state(missionCode)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.firstQueryAt.IsZero() {
		st.firstQueryAt = now
		st.stepStartedAt = now
	}
	return StatusAt(now.Sub(st.firstQueryAt), t.cfg), nil
}

// Position returns the resolved node code of the mission's current step
// and whether the mission is paused waiting for manual feedback. The walk
// advances lazily: each call applies the dwell time elapsed since the
// previous call.
func (t *Tracker) Position(missionCode string) (node string, waiting bool, err error) {
	if missionCode == "" {
		return "", false, fault.New(fault.ValidationFailed, "missionCode is required")
	}

	var item models.MissionQueueItem
	q := t.db.Preload("Steps", func(tx *gorm.DB) *gorm.DB { return tx.Order("sequence ASC") })
	if err := q.Where("mission_code = ?", missionCode).First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, fault.New(fault.NotFound, "mission %s not found", missionCode)
		}
		return "", false, fmt.Errorf("tracker: load mission %s: %w", missionCode, err)
	}
	if len(item.Steps) == 0 {
		return "", false, nil
	}

	st := t.state(missionCode)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := t.now()
	if st.stepStartedAt.IsZero() {
		st.stepStartedAt = now
	}

	// Cancellation is cooperative: a cancelled record stops advancing but
	// still reports its last position.
	if item.Status != models.MissionCancelled {
		t.advanceLocked(st, item.Steps, now)
	}

	idx := st.stepIndex
	if idx >= len(item.Steps) {
		idx = len(item.Steps) - 1
	}
	node, err = st.cache.resolve(t.db, item.Steps[idx].Position)
	if err != nil {
		return "", false, err
	}
	if err := t.persistWalkLocked(missionCode, st); err != nil {
		log.Printf("tracker: persist walk for %s: %v", missionCode, err)
	}
	return node, st.waiting, nil
}

// advanceLocked walks steps forward under the mission lock. A MANUAL step
// that has not received feedback halts the walk indefinitely.
func (t *Tracker) advanceLocked(st *missionState, steps []models.MissionStep, now time.Time) {
	dwell := time.Duration(t.cfg.StepDwellSeconds) * time.Second
	for st.stepIndex < len(steps) {
		step := steps[st.stepIndex]
		if step.PassStrategy == models.PassManual && !st.fed[st.stepIndex] {
			st.waiting = true
			return
		}
		wait := dwell + time.Duration(step.WaitingMillis)*time.Millisecond
		if now.Sub(st.stepStartedAt) < wait {
			return
		}
		st.stepStartedAt = st.stepStartedAt.Add(wait)
		st.stepIndex++
	}
}

// persistWalkLocked mirrors the runtime walk onto the record so queries
// from other processes see the current step and waiting flag.
func (t *Tracker) persistWalkLocked(missionCode string, st *missionState) error {
	return t.db.Model(&models.MissionQueueItem{}).
		Where("mission_code = ?", missionCode).
		Updates(map[string]interface{}{
			"current_step_index":   st.stepIndex,
			"waiting_for_feedback": st.waiting,
		}).Error
}

// OperationFeedback reports that a manual waypoint was handled. The
// position must match the current waiting step's resolved or raw position,
// case-insensitively; feedback for any other position is accepted and
// logged but does not advance the walk.
func (t *Tracker) OperationFeedback(missionCode, position string) error {
	if missionCode == "" {
		return fault.New(fault.ValidationFailed, "missionCode is required")
	}
	if position == "" {
		return fault.New(fault.ValidationFailed, "position is required")
	}

	var item models.MissionQueueItem
	q := t.db.Preload("Steps", func(tx *gorm.DB) *gorm.DB { return tx.Order("sequence ASC") })
	if err := q.Where("mission_code = ?", missionCode).First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fault.New(fault.NotFound, "mission %s not found", missionCode)
		}
		return fmt.Errorf("tracker: load mission %s: %w", missionCode, err)
	}

	st := t.state(missionCode)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.waiting || st.stepIndex >= len(item.Steps) {
		log.Printf("tracker: feedback for %s at %q ignored: not waiting", missionCode, position)
		return nil
	}

	step := item.Steps[st.stepIndex]
	resolved, err := st.cache.resolve(t.db, step.Position)
	if err != nil {
		return err
	}
	if !strings.EqualFold(position, step.Position) && !strings.EqualFold(position, resolved) {
		log.Printf("tracker: feedback for %s at %q ignored: waiting at %q", missionCode, position, resolved)
		return nil
	}

	st.fed[st.stepIndex] = true
	st.waiting = false
	st.stepStartedAt = t.now()
	if err := t.persistWalkLocked(missionCode, st); err != nil {
		log.Printf("tracker: persist walk for %s: %v", missionCode, err)
	}
	return nil
}

// RobotState is the answer to a robot query.
type RobotState struct {
	RobotID     string
	NodeCode    string
	MissionCode string
	Status      int
}

// QueryRobot returns the robot's resolved node, its current mission (if
// any), and a coarse idle/executing status.
func (t *Tracker) QueryRobot(robotID string) (*RobotState, error) {
	if robotID == "" {
		return nil, fault.New(fault.ValidationFailed, "robotId is required")
	}

	state := &RobotState{RobotID: robotID, Status: RobotIdle}

	var robot models.Robot
	err := t.db.Where("robot_id = ?", robotID).First(&robot).Error
	if err == nil {
		state.NodeCode = robot.NodeCode
	} else if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("tracker: load robot %s: %w", robotID, err)
	}

	var active models.MissionQueueItem
	err = t.db.Where("assigned_robot_id = ? AND status NOT IN ?", robotID,
		[]string{models.MissionCompleted, models.MissionFailed, models.MissionCancelled}).
		Order("created_utc DESC").First(&active).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return state, nil
	case err != nil:
		return nil, fmt.Errorf("tracker: load active mission for %s: %w", robotID, err)
	}

	state.MissionCode = active.MissionCode
	state.Status = RobotExecuting
	if node, _, perr := t.Position(active.MissionCode); perr == nil && node != "" {
		state.NodeCode = node
	}
	return state, nil
}

// Forget releases the runtime entry for a mission once it is terminal.
func (t *Tracker) Forget(missionCode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.missions, missionCode)
}
