// Package dispatcher moves mission records through their lifecycle:
// draining pending submissions to the AMR gateway, polling execution
// status, archiving terminal records, and handing completions to the
// chaining evaluator.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/zulandar/amrbridge/internal/chaining"
	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/gateway"
	"github.com/zulandar/amrbridge/internal/models"
	"github.com/zulandar/amrbridge/internal/notify"
	"github.com/zulandar/amrbridge/internal/store"
	"github.com/zulandar/amrbridge/internal/tracker"
	"gorm.io/gorm"
)

// Dispatcher owns the mission poll loops for one process instance.
type Dispatcher struct {
	db       *gorm.DB
	cfg      config.DispatcherConfig
	gw       gateway.Client
	tr       *tracker.Tracker
	ev       *chaining.Evaluator
	notifier notify.Notifier
	orgID    string
}

// New builds a Dispatcher. The notifier may be nil when alerts are not
// configured.
func New(db *gorm.DB, cfg config.DispatcherConfig, orgID string, gw gateway.Client, tr *tracker.Tracker, ev *chaining.Evaluator, notifier notify.Notifier) *Dispatcher {
	return &Dispatcher{db: db, cfg: cfg, gw: gw, tr: tr, ev: ev, notifier: notifier, orgID: orgID}
}

// Run loops until the context is cancelled. Each tick runs the phases in
// order; a failing record never halts the loop.
func (d *Dispatcher) Run(ctx context.Context, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	interval := time.Duration(d.cfg.PollSeconds) * time.Second
	fmt.Fprintf(out, "Dispatcher starting (poll every %s)...\n", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Dispatcher stopped.\n")
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one pass of all phases.
func (d *Dispatcher) Tick(ctx context.Context) {
	if err := d.drainPending(ctx); err != nil {
		log.Printf("dispatcher: drain pending: %v", err)
	}
	if err := d.pollActive(ctx); err != nil {
		log.Printf("dispatcher: poll active: %v", err)
	}
}

// drainPending submits pending records to the gateway, oldest and most
// urgent first.
func (d *Dispatcher) drainPending(ctx context.Context) error {
	var pending []models.MissionQueueItem
	err := d.db.Preload("Steps", func(tx *gorm.DB) *gorm.DB { return tx.Order("sequence ASC") }).
		Where("status IN ?", []string{models.MissionPending, models.MissionReadyToAssign, models.MissionAssigned}).
		Order("priority DESC, created_utc ASC").
		Limit(d.cfg.DrainBatch).
		Find(&pending).Error
	if err != nil {
		return fmt.Errorf("dispatcher: fetch pending: %w", err)
	}

	for i := range pending {
		if err := d.submitOne(ctx, &pending[i]); err != nil {
			log.Printf("dispatcher: submit %s: %v", pending[i].MissionCode, err)
		}
	}
	return nil
}

// submitOne pushes one record to the gateway and advances its state.
// Upstream outages leave the record in place for the next tick; gateway
// rejections fail the record with the gateway's message.
func (d *Dispatcher) submitOne(ctx context.Context, item *models.MissionQueueItem) error {
	if item.Status == models.MissionPending {
		err := store.Transition(d.db, item.MissionCode, models.MissionPending, models.MissionReadyToAssign, nil)
		if err != nil {
			if fault.IsKind(err, fault.Conflict) {
				// Another instance or a cancel got there first.
				return nil
			}
			return err
		}
		item.Status = models.MissionReadyToAssign
	}

	steps := make([]gateway.SubmitStep, 0, len(item.Steps))
	for _, st := range item.Steps {
		steps = append(steps, gateway.SubmitStep{
			Sequence:      st.Sequence,
			Position:      st.Position,
			PassStrategy:  st.PassStrategy,
			WaitingMillis: st.WaitingMillis,
		})
	}
	// A record claimed by the chaining evaluator carries its robot into
	// the submission so the AMR system keeps the pairing.
	var robotIDs []string
	if item.AssignedRobotID != nil && *item.AssignedRobotID != "" {
		robotIDs = []string{*item.AssignedRobotID}
	}
	resp, err := d.gw.SubmitMission(ctx, gateway.SubmitRequest{
		OrgID:         d.orgID,
		RequestID:     item.RequestID,
		MissionCode:   item.MissionCode,
		TemplateCode:  item.TemplateCode,
		MissionSteps:  steps,
		RobotIDs:      robotIDs,
		Priority:      item.Priority,
		ContainerCode: item.ContainerCode,
	})
	if err != nil {
		if fault.IsKind(err, fault.UpstreamUnavailable) {
			// Keep the record; the next tick retries naturally.
			d.db.Model(&models.MissionQueueItem{}).
				Where("mission_code = ?", item.MissionCode).
				Update("error_message", err.Error())
			return nil
		}
		return err
	}

	if !resp.Success {
		msg := fmt.Sprintf("gateway rejected submission (code %s): %s", resp.Code, resp.Message)
		if ferr := store.RecordFailure(d.db, item.MissionCode, item.Status, msg); ferr != nil {
			return ferr
		}
		d.alert(ctx, item.MissionCode, msg)
		return nil
	}
	return store.Transition(d.db, item.MissionCode, item.Status, models.MissionSubmittedToAmr,
		map[string]interface{}{"error_message": ""})
}

// pollActive interprets execution status for submitted and executing
// records, archiving terminal ones and evaluating chaining on completion.
func (d *Dispatcher) pollActive(ctx context.Context) error {
	var active []models.MissionQueueItem
	err := d.db.Where("status IN ?", []string{models.MissionSubmittedToAmr, models.MissionExecuting}).
		Order("created_utc ASC").
		Find(&active).Error
	if err != nil {
		return fmt.Errorf("dispatcher: fetch active: %w", err)
	}

	for i := range active {
		if err := d.pollOne(ctx, &active[i]); err != nil {
			log.Printf("dispatcher: poll %s: %v", active[i].MissionCode, err)
		}
	}
	return nil
}

func (d *Dispatcher) pollOne(ctx context.Context, item *models.MissionQueueItem) error {
	status, err := d.tr.Status(item.MissionCode)
	if err != nil {
		return err
	}
	status, err = d.robotStatus(ctx, item, status)
	if err != nil {
		return err
	}

	switch status {
	case tracker.StatusExecuting, tracker.StatusWaiting:
		if item.Status == models.MissionSubmittedToAmr {
			err := store.Transition(d.db, item.MissionCode, models.MissionSubmittedToAmr, models.MissionExecuting, nil)
			if err != nil && !fault.IsKind(err, fault.Conflict) {
				return err
			}
		}
	case tracker.StatusCompleted:
		err := store.Transition(d.db, item.MissionCode, item.Status, models.MissionCompleted, nil)
		if err != nil {
			if fault.IsKind(err, fault.Conflict) {
				return nil
			}
			return err
		}
		d.tr.Forget(item.MissionCode)
		d.evaluateChain(item)
	case tracker.StatusCancelling, tracker.StatusCancelled:
		// Cooperative cancellation: the record is already terminal, the
		// tracker stops advancing on its own.
		d.tr.Forget(item.MissionCode)
	}
	return nil
}

// robotStatus reconciles the clock-derived status against the AMR
// system's answer for the assigned robot. A robot reporting the mission
// confirms it is executing; a robot that has moved on means the fleet
// finished it before our clock did. Outages fall back to the clock.
func (d *Dispatcher) robotStatus(ctx context.Context, item *models.MissionQueueItem, status int) (int, error) {
	if item.AssignedRobotID == nil || *item.AssignedRobotID == "" {
		return status, nil
	}
	info, err := d.gw.QueryRobot(ctx, gateway.RobotQuery{RobotID: *item.AssignedRobotID, MapCode: item.MapCode})
	if err != nil {
		if fault.IsKind(err, fault.UpstreamUnavailable) || fault.IsKind(err, fault.NotFound) {
			return status, nil
		}
		return 0, err
	}
	switch {
	case info.MissionCode != item.MissionCode:
		return tracker.StatusCompleted, nil
	case status == tracker.StatusCreated && info.Status == tracker.RobotExecuting:
		return tracker.StatusExecuting, nil
	}
	return status, nil
}

// evaluateChain runs the opportunistic evaluator for a completed mission
// with an assigned robot.
func (d *Dispatcher) evaluateChain(item *models.MissionQueueItem) {
	if item.AssignedRobotID == nil || *item.AssignedRobotID == "" {
		return
	}
	robotID := *item.AssignedRobotID

	originalMap := item.MapCode
	var robot models.Robot
	if err := d.db.Where("robot_id = ?", robotID).First(&robot).Error; err == nil && robot.MapCode != "" {
		originalMap = robot.MapCode
	}

	res, err := d.ev.Evaluate(chaining.Completion{
		RobotID:         robotID,
		MissionCode:     item.MissionCode,
		CurrentMapCode:  item.MapCode,
		OriginalMapCode: originalMap,
	})
	if err != nil {
		log.Printf("dispatcher: chaining for %s: %v", item.MissionCode, err)
		return
	}
	log.Printf("dispatcher: robot %s after %s: %s (%s)", robotID, item.MissionCode, res.Decision, res.Reason)
}

// alert sends a best-effort ops notification.
func (d *Dispatcher) alert(ctx context.Context, missionCode, message string) {
	if d.notifier == nil {
		return
	}
	notify.Send(ctx, d.notifier, notify.Alert{
		Title: fmt.Sprintf("Mission %s failed", missionCode),
		Body:  message,
	})
}
