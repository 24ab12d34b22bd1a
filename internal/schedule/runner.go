package schedule

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
	"github.com/zulandar/amrbridge/internal/notify"
	"github.com/zulandar/amrbridge/internal/store"
	"gorm.io/gorm"
)

// Runner polls for due schedules and fires them. Multiple Runner
// instances may share one store; the lease keeps each due schedule with
// exactly one of them.
type Runner struct {
	db       *gorm.DB
	cfg      config.SchedulerConfig
	notifier notify.Notifier

	// now is swapped in tests.
	now func() time.Time
}

// NewRunner builds a Runner.
func NewRunner(db *gorm.DB, cfg config.SchedulerConfig) *Runner {
	return &Runner{db: db, cfg: cfg, now: time.Now}
}

// WithNotifier sets an optional ops-alert target for failed runs.
func (r *Runner) WithNotifier(n notify.Notifier) *Runner {
	r.notifier = n
	return r
}

// Create validates and persists a new schedule with its first run time.
func (r *Runner) Create(def *models.ScheduleDefinition) error {
	if err := Validate(def); err != nil {
		return err
	}
	next, err := NextRun(def, r.now())
	if err != nil {
		return err
	}
	def.NextRunUtc = next
	def.IsEnabled = next != nil
	if err := r.db.Create(def).Error; err != nil {
		return fmt.Errorf("schedule: create %q: %w", def.Name, err)
	}
	return nil
}

// Run loops until the context is cancelled, polling for due schedules at
// the configured interval. A failing schedule never halts the loop.
func (r *Runner) Run(ctx context.Context, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	interval := time.Duration(r.cfg.PollSeconds) * time.Second
	fmt.Fprintf(out, "Schedule runner starting (poll every %s)...\n", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Schedule runner stopped.\n")
			return nil
		case <-ticker.C:
			if err := r.RunDue(); err != nil {
				log.Printf("schedule: poll: %v", err)
			}
		}
	}
}

// RunDue fetches all enabled schedules whose next run has passed and are
// not currently locked, and processes them one at a time.
func (r *Runner) RunDue() error {
	var due []models.ScheduleDefinition
	err := r.db.Where("is_enabled = ? AND next_run_utc IS NOT NULL AND next_run_utc <= ? AND lock_token IS NULL",
		true, r.now().UTC()).
		Order("next_run_utc ASC").
		Limit(r.cfg.Batch).
		Find(&due).Error
	if err != nil {
		return fmt.Errorf("schedule: fetch due: %w", err)
	}

	for i := range due {
		if err := r.ProcessOne(&due[i]); err != nil {
			if fault.IsKind(err, fault.LockNotHeld) {
				continue
			}
			log.Printf("schedule: %q (%d): %v", due[i].Name, due[i].ID, err)
		}
	}
	return nil
}

// ProcessOne executes one due schedule under its lease. The lease is
// released on every exit path; next_run_utc is only recomputed by the
// worker that held the lease.
func (r *Runner) ProcessOne(def *models.ScheduleDefinition) error {
	token, err := AcquireLease(r.db, def.ID)
	if err != nil {
		if fault.IsKind(err, fault.LockNotHeld) {
			r.recordRun(def.ID, models.RunSkipped, "lock not held", "")
		}
		return err
	}
	defer func() {
		if rerr := ReleaseLease(r.db, def.ID, token); rerr != nil {
			log.Printf("schedule: release lease for %d: %v", def.ID, rerr)
		}
	}()

	updates := map[string]interface{}{}
	now := r.now()

	fired, missionCode, runErr := r.fire(def)
	switch {
	case runErr != nil:
		r.recordRun(def.ID, models.RunFailed, runErr.Error(), "")
		updates["last_error"] = runErr.Error()
		if r.notifier != nil {
			notify.Send(context.Background(), r.notifier, notify.Alert{
				Title: fmt.Sprintf("Schedule %q run failed", def.Name),
				Body:  runErr.Error(),
			})
		}
	case fired:
		r.recordRun(def.ID, models.RunFired, "", missionCode)
		updates["run_count"] = gorm.Expr("run_count + 1")
		updates["last_run_utc"] = now.UTC()
		updates["last_error"] = ""
	default:
		r.recordRun(def.ID, models.RunSkipped, "active instance of template exists", "")
		updates["skip_count"] = gorm.Expr("skip_count + 1")
	}

	// Failed runs still get a valid next run time so the schedule
	// self-heals; once triggers are disabled regardless of outcome.
	if def.TriggerType == models.TriggerOnce {
		updates["is_enabled"] = false
		updates["next_run_utc"] = nil
	} else {
		next, nerr := NextRun(def, now)
		if nerr != nil {
			updates["last_error"] = nerr.Error()
			updates["is_enabled"] = false
			updates["next_run_utc"] = nil
		} else if next == nil {
			updates["is_enabled"] = false
			updates["next_run_utc"] = nil
		} else {
			updates["next_run_utc"] = *next
		}
	}

	if err := r.db.Model(&models.ScheduleDefinition{}).
		Where("id = ?", def.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("schedule: finalize %d: %w", def.ID, err)
	}
	return runErr
}

// fire enqueues one mission record for the schedule's template. Returns
// fired=false when skip-if-running suppressed the run.
func (r *Runner) fire(def *models.ScheduleDefinition) (fired bool, missionCode string, err error) {
	if def.SkipIfRunning {
		active, aerr := store.HasActiveTemplate(r.db, def.TemplateCode)
		if aerr != nil {
			return false, "", aerr
		}
		if active {
			return false, "", nil
		}
	}

	id := uuid.NewString()
	missionCode = fmt.Sprintf("SCH-%d-%s", def.ID, id[:8])
	_, err = store.Submit(r.db, store.SubmitRequest{
		MissionCode:   missionCode,
		RequestID:     id,
		TemplateCode:  def.TemplateCode,
		MapCode:       def.MapCode,
		Priority:      def.Priority,
		TriggerSource: models.TriggerScheduled,
		Creator:       fmt.Sprintf("schedule:%d", def.ID),
	})
	if err != nil {
		return false, "", fmt.Errorf("schedule: fire %q: %w", def.Name, err)
	}
	return true, missionCode, nil
}

// recordRun appends a diagnostic outcome row; best-effort.
func (r *Runner) recordRun(scheduleID uint, outcome, detail, missionCode string) {
	run := models.ScheduleRun{
		ScheduleID:  scheduleID,
		Outcome:     outcome,
		Detail:      detail,
		MissionCode: missionCode,
		RanAt:       r.now().UTC(),
	}
	if err := r.db.Create(&run).Error; err != nil {
		log.Printf("schedule: record run for %d: %v", scheduleID, err)
	}
}
