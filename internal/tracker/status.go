// Package tracker converts elapsed time plus external feedback into a
// mission's reported status and the robot's current position. The same
// interpretation applies whether the signals come from the simulator or
// from the external gateway.
package tracker

import (
	"time"

	"github.com/zulandar/amrbridge/internal/config"
)

// Mission status codes reported to callers.
const (
	StatusCreated    = 10
	StatusExecuting  = 20
	StatusWaiting    = 25
	StatusCancelling = 28
	StatusCompleted  = 30
	StatusCancelled  = 31
)

// Coarse robot status codes for QueryRobot.
const (
	RobotIdle      = 0
	RobotExecuting = 20
)

// phase is one entry of the ordered progression table: the status holds
// until elapsed reaches Until.
type phase struct {
	Until  time.Duration
	Status int
}

// progression builds the ordered (threshold, status) table from the
// configured phase lengths t1..t4.
func progression(cfg config.TrackerConfig) []phase {
	t1 := time.Duration(cfg.CreatedSeconds) * time.Second
	t2 := time.Duration(cfg.ExecutingSeconds) * time.Second
	t3 := time.Duration(cfg.WaitingSeconds) * time.Second
	t4 := time.Duration(cfg.FinalSeconds) * time.Second
	return []phase{
		{Until: t1, Status: StatusCreated},
		{Until: t1 + t2, Status: StatusExecuting},
		{Until: t1 + t2 + t3, Status: StatusWaiting},
		{Until: t1 + t2 + t3 + t4, Status: StatusExecuting},
	}
}

// StatusAt returns the mission status for a given elapsed time since the
// first status query. Pure: the same elapsed and config always yield the
// same status.
func StatusAt(elapsed time.Duration, cfg config.TrackerConfig) int {
	for _, p := range progression(cfg) {
		if elapsed < p.Until {
			return p.Status
		}
	}
	return StatusCompleted
}

// StatusAfterCancel returns the status for a cancelled mission given the
// time since cancellation. The short Cancelling window models physical
// robot stop latency and must match downstream consumers exactly.
func StatusAfterCancel(sinceCancel time.Duration, cfg config.TrackerConfig) int {
	window := time.Duration(cfg.CancellingSeconds) * time.Second
	if sinceCancel < window {
		return StatusCancelling
	}
	return StatusCancelled
}
