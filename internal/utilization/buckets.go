// Package utilization reconciles mission, manual-pause, and charging
// intervals into per-robot time buckets for reporting.
package utilization

import (
	"math"
	"time"
)

// Granularity selects the bucket width.
type Granularity string

const (
	ByHour Granularity = "hour"
	ByDay  Granularity = "day"
)

// Interval is one half-open [Start, End) slice of robot time, tagged with
// the mission it belongs to when known.
type Interval struct {
	Start       time.Time
	End         time.Time
	MissionCode string
}

// Bucket is one fixed-width slice of the report period. All minute values
// are rounded to 2 decimal places; by construction
// Available == Working + ManualPause + Charging + Idle.
type Bucket struct {
	Start              time.Time
	AvailableMinutes   float64
	WorkingMinutes     float64
	ManualPauseMinutes float64
	ChargingMinutes    float64
	IdleMinutes        float64
	CompletedMissions  int
}

// Report is the aggregated answer for one robot and period.
type Report struct {
	RobotID                 string
	PeriodStart             time.Time
	PeriodEnd               time.Time
	Granularity             Granularity
	Buckets                 []Bucket
	TotalAvailableMinutes   float64
	TotalWorkingMinutes     float64
	TotalManualPauseMinutes float64
	TotalChargingMinutes    float64
	TotalIdleMinutes        float64
	CompletedMissions       int
	UtilizationPercent      float64
}

// round2 rounds to 2 decimal places; the same rounding applies to buckets
// and totals so they stay consistent.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// overlapMinutes returns the minutes the interval spends inside [start, end).
func overlapMinutes(iv Interval, start, end time.Time) float64 {
	s := iv.Start
	if s.Before(start) {
		s = start
	}
	e := iv.End
	if e.After(end) {
		e = end
	}
	if !e.After(s) {
		return 0
	}
	return e.Sub(s).Minutes()
}

// bucketWidth returns the duration of one bucket.
func (g Granularity) bucketWidth() time.Duration {
	if g == ByDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// bucketStart aligns t down to the bucket boundary.
func (g Granularity) bucketStart(t time.Time) time.Time {
	if g == ByDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	return t.Truncate(time.Hour)
}

// subtractPauses removes, from each mission interval, the portions that
// overlap a manual pause tagged with the same mission code, so paused time
// is never double-counted as working.
func subtractPauses(missions, pauses []Interval) []Interval {
	out := make([]Interval, 0, len(missions))
	for _, m := range missions {
		pieces := []Interval{m}
		for _, p := range pauses {
			if p.MissionCode == "" || p.MissionCode != m.MissionCode {
				continue
			}
			var next []Interval
			for _, piece := range pieces {
				next = append(next, subtractOne(piece, p)...)
			}
			pieces = next
		}
		out = append(out, pieces...)
	}
	return out
}

// subtractOne removes p from iv, returning the remaining 0-2 pieces.
func subtractOne(iv, p Interval) []Interval {
	if !p.Start.Before(iv.End) || !p.End.After(iv.Start) {
		return []Interval{iv}
	}
	var out []Interval
	if p.Start.After(iv.Start) {
		out = append(out, Interval{Start: iv.Start, End: p.Start, MissionCode: iv.MissionCode})
	}
	if p.End.Before(iv.End) {
		out = append(out, Interval{Start: p.End, End: iv.End, MissionCode: iv.MissionCode})
	}
	return out
}

// Compute builds the report from pre-collected intervals. Completed
// mission count is the number of distinct working missions whose interval
// ends inside the period.
func Compute(robotID string, periodStart, periodEnd time.Time, g Granularity, working, pauses, charging []Interval) *Report {
	report := &Report{
		RobotID:     robotID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Granularity: g,
	}
	if !periodEnd.After(periodStart) {
		return report
	}

	effective := subtractPauses(working, pauses)

	width := g.bucketWidth()
	for cursor := g.bucketStart(periodStart); cursor.Before(periodEnd); cursor = cursor.Add(width) {
		bStart, bEnd := cursor, cursor.Add(width)
		// Clip at period boundaries.
		clipStart, clipEnd := bStart, bEnd
		if clipStart.Before(periodStart) {
			clipStart = periodStart
		}
		if clipEnd.After(periodEnd) {
			clipEnd = periodEnd
		}

		b := Bucket{Start: bStart}
		b.AvailableMinutes = round2(clipEnd.Sub(clipStart).Minutes())
		for _, iv := range effective {
			b.WorkingMinutes += overlapMinutes(iv, clipStart, clipEnd)
		}
		for _, iv := range pauses {
			b.ManualPauseMinutes += overlapMinutes(iv, clipStart, clipEnd)
		}
		for _, iv := range charging {
			b.ChargingMinutes += overlapMinutes(iv, clipStart, clipEnd)
		}
		b.WorkingMinutes = round2(b.WorkingMinutes)
		b.ManualPauseMinutes = round2(b.ManualPauseMinutes)
		b.ChargingMinutes = round2(b.ChargingMinutes)
		idle := b.AvailableMinutes - b.ManualPauseMinutes - b.WorkingMinutes - b.ChargingMinutes
		if idle < 0 {
			idle = 0
		}
		b.IdleMinutes = round2(idle)

		for _, iv := range working {
			if !iv.End.Before(clipStart) && iv.End.Before(clipEnd) {
				b.CompletedMissions++
			}
		}
		report.Buckets = append(report.Buckets, b)
	}

	for _, b := range report.Buckets {
		report.TotalAvailableMinutes += b.AvailableMinutes
		report.TotalWorkingMinutes += b.WorkingMinutes
		report.TotalManualPauseMinutes += b.ManualPauseMinutes
		report.TotalChargingMinutes += b.ChargingMinutes
		report.TotalIdleMinutes += b.IdleMinutes
		report.CompletedMissions += b.CompletedMissions
	}
	report.TotalAvailableMinutes = round2(report.TotalAvailableMinutes)
	report.TotalWorkingMinutes = round2(report.TotalWorkingMinutes)
	report.TotalManualPauseMinutes = round2(report.TotalManualPauseMinutes)
	report.TotalChargingMinutes = round2(report.TotalChargingMinutes)
	report.TotalIdleMinutes = round2(report.TotalIdleMinutes)

	denom := report.TotalAvailableMinutes - report.TotalManualPauseMinutes
	if denom > 0 {
		pct := (report.TotalWorkingMinutes + report.TotalChargingMinutes) / denom * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		report.UtilizationPercent = round2(pct)
	}
	return report
}
