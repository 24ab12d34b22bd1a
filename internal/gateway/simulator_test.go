package gateway

import (
	"context"
	"testing"

	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/models"
	"github.com/zulandar/amrbridge/internal/tracker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSimTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.MissionQueueItem{}, &models.MissionStep{}, &models.MissionHistory{},
		&models.Robot{}, &models.Area{}, &models.AreaNode{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newSim(t *testing.T) (*Simulator, *gorm.DB) {
	t.Helper()
	db := openSimTestDB(t)
	tr := tracker.New(db, config.Default().Tracker)
	return NewSimulator(db, tr), db
}

func TestSimulator_SubmitAndConflict(t *testing.T) {
	sim, _ := newSim(t)
	ctx := context.Background()

	req := SubmitRequest{
		RequestID:   "R-1",
		MissionCode: "M-1",
		MissionSteps: []SubmitStep{
			{Sequence: 1, Position: "N-1", PassStrategy: "AUTO"},
		},
	}
	resp, err := sim.SubmitMission(ctx, req)
	if err != nil {
		t.Fatalf("SubmitMission: %v", err)
	}
	if !resp.Success || resp.Code != CodeOK {
		t.Errorf("resp = %+v, want success code 0", resp)
	}

	// Reused identifiers answer the conflict code, not a transport error.
	resp, err = sim.SubmitMission(ctx, req)
	if err != nil {
		t.Fatalf("duplicate SubmitMission: %v", err)
	}
	if resp.Success || resp.Code != CodeConflict {
		t.Errorf("resp = %+v, want conflict code %s", resp, CodeConflict)
	}
}

func TestSimulator_CancelAndFeedback(t *testing.T) {
	sim, _ := newSim(t)
	ctx := context.Background()

	_, err := sim.SubmitMission(ctx, SubmitRequest{
		RequestID:   "R-1",
		MissionCode: "M-1",
		MissionSteps: []SubmitStep{
			{Sequence: 1, Position: "N-1", PassStrategy: "MANUAL"},
		},
	})
	if err != nil {
		t.Fatalf("SubmitMission: %v", err)
	}

	if _, err := sim.OperationFeedback(ctx, "R-1", "M-1", "N-1"); err != nil {
		t.Fatalf("OperationFeedback: %v", err)
	}

	resp, err := sim.CancelMission(ctx, CancelRequest{
		MissionCode: "M-1", CancelMode: "NORMAL", Reason: "test",
	})
	if err != nil {
		t.Fatalf("CancelMission: %v", err)
	}
	if !resp.Success {
		t.Errorf("resp = %+v, want success", resp)
	}

	_, err = sim.CancelMission(ctx, CancelRequest{MissionCode: "M-1", CancelMode: "SOFT"})
	if !fault.IsKind(err, fault.ValidationFailed) {
		t.Errorf("bad cancel mode: err = %v, want ValidationFailed", err)
	}
}

func TestSimulator_QueryRobotAndJobs(t *testing.T) {
	sim, db := newSim(t)
	ctx := context.Background()

	db.Create(&models.Robot{RobotID: "robot-1", NodeCode: "HOME-1"})

	info, err := sim.QueryRobot(ctx, RobotQuery{RobotID: "robot-1"})
	if err != nil {
		t.Fatalf("QueryRobot: %v", err)
	}
	if info.Status != 0 || info.NodeCode != "HOME-1" {
		t.Errorf("info = %+v, want idle at HOME-1", info)
	}
	if _, err := sim.QueryRobot(ctx, RobotQuery{}); !fault.IsKind(err, fault.ValidationFailed) {
		t.Errorf("empty robotId: err = %v, want ValidationFailed", err)
	}

	for _, code := range []string{"M-1", "M-2"} {
		if _, err := sim.SubmitMission(ctx, SubmitRequest{
			RequestID: "R-" + code, MissionCode: code,
			MissionSteps: []SubmitStep{{Sequence: 1, Position: "N-1"}},
		}); err != nil {
			t.Fatalf("SubmitMission %s: %v", code, err)
		}
	}

	jobs, err := sim.QueryJobs(ctx, JobsQuery{})
	if err != nil {
		t.Fatalf("QueryJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(jobs))
	}
}
