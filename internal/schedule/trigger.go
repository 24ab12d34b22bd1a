// Package schedule computes next-run times for one-time, interval, and
// cron triggers, and owns the lease that keeps a due schedule from being
// executed by more than one process instance.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
)

// Interval bounds in minutes: one minute to thirty days.
const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 43200
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks a schedule's trigger parameters. Invalid schedules are
// rejected before anything is persisted.
func Validate(def *models.ScheduleDefinition) error {
	if def.TemplateCode == "" {
		return fault.New(fault.InvalidSchedule, "templateCode is required")
	}
	switch def.TriggerType {
	case models.TriggerOnce:
		if def.FireAt == nil {
			return fault.New(fault.InvalidSchedule, "once trigger requires a fire timestamp")
		}
	case models.TriggerInterval:
		if def.IntervalMinutes < MinIntervalMinutes || def.IntervalMinutes > MaxIntervalMinutes {
			return fault.New(fault.InvalidSchedule, "interval %d outside [%d, %d] minutes",
				def.IntervalMinutes, MinIntervalMinutes, MaxIntervalMinutes)
		}
	case models.TriggerCron:
		if _, err := cronParser.Parse(def.CronExpr); err != nil {
			return fault.Wrap(fault.InvalidSchedule, err, "cron expression %q", def.CronExpr)
		}
		if _, err := location(def.Timezone); err != nil {
			return fault.Wrap(fault.InvalidSchedule, err, "timezone %q", def.Timezone)
		}
	default:
		return fault.New(fault.InvalidSchedule, "trigger type %q is not one of once, interval, cron", def.TriggerType)
	}
	return nil
}

// NextRun computes the next fire time strictly after from. A nil result
// means the schedule is exhausted (a once trigger that already fired).
func NextRun(def *models.ScheduleDefinition, from time.Time) (*time.Time, error) {
	switch def.TriggerType {
	case models.TriggerOnce:
		if def.FireAt == nil {
			return nil, fault.New(fault.InvalidSchedule, "once trigger requires a fire timestamp")
		}
		if def.FireAt.After(from) {
			t := def.FireAt.UTC()
			return &t, nil
		}
		return nil, nil
	case models.TriggerInterval:
		if err := Validate(def); err != nil {
			return nil, err
		}
		t := from.Add(time.Duration(def.IntervalMinutes) * time.Minute).UTC()
		return &t, nil
	case models.TriggerCron:
		sched, err := cronParser.Parse(def.CronExpr)
		if err != nil {
			return nil, fault.Wrap(fault.InvalidSchedule, err, "cron expression %q", def.CronExpr)
		}
		loc, err := location(def.Timezone)
		if err != nil {
			return nil, fault.Wrap(fault.InvalidSchedule, err, "timezone %q", def.Timezone)
		}
		t := sched.Next(from.In(loc)).UTC()
		return &t, nil
	}
	return nil, fault.New(fault.InvalidSchedule, "trigger type %q is not one of once, interval, cron", def.TriggerType)
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
