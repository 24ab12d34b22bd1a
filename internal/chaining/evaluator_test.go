package chaining

import (
	"testing"

	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/models"
	"github.com/zulandar/amrbridge/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openChainTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.MissionQueueItem{}, &models.MissionStep{}, &models.MissionHistory{},
		&models.RobotJobOpportunity{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func seedPending(t *testing.T, db *gorm.DB, mission, mapCode string) {
	t.Helper()
	_, err := store.Submit(db, store.SubmitRequest{
		MissionCode: mission,
		RequestID:   "req-" + mission,
		MapCode:     mapCode,
		Steps:       []store.StepRequest{{Position: "N-1"}},
	})
	if err != nil {
		t.Fatalf("Submit %s: %v", mission, err)
	}
}

func chainCfg(defaultMax int) config.ChainingConfig {
	return config.ChainingConfig{DefaultMax: defaultMax}
}

func TestEvaluate_ChainsWhenJobAvailable(t *testing.T) {
	db := openChainTestDB(t)
	seedPending(t, db, "M-next", "MAP-A")
	ev := New(db, chainCfg(2))

	res, err := ev.Evaluate(Completion{
		RobotID: "robot-1", MissionCode: "M-done",
		CurrentMapCode: "MAP-A", OriginalMapCode: "MAP-HOME",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Decision != models.DecisionJobChained {
		t.Fatalf("Decision = %q, want job_chained (%s)", res.Decision, res.Reason)
	}
	if res.ChainedMissionCode != "M-next" {
		t.Errorf("ChainedMissionCode = %q, want M-next", res.ChainedMissionCode)
	}
	if res.Reason == "" {
		t.Error("every decision records a reason")
	}

	// The chained job was claimed for the robot.
	chained, err := store.Get(db, "M-next")
	if err != nil {
		t.Fatalf("Get chained: %v", err)
	}
	if chained.AssignedRobotID == nil || *chained.AssignedRobotID != "robot-1" {
		t.Error("chained job not assigned to robot-1")
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	db := openChainTestDB(t)
	seedPending(t, db, "M-next", "MAP-A")
	seedPending(t, db, "M-extra", "MAP-A")
	ev := New(db, chainCfg(5))

	c := Completion{RobotID: "robot-1", MissionCode: "M-done", CurrentMapCode: "MAP-A"}
	first, err := ev.Evaluate(c)
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	second, err := ev.Evaluate(c)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if second.Decision != first.Decision || second.ChainedMissionCode != first.ChainedMissionCode {
		t.Errorf("re-evaluation changed the decision: %+v vs %+v", first, second)
	}

	// M-extra must still be pending: no second chain for the same event.
	extra, _ := store.Get(db, "M-extra")
	if extra.Status != models.MissionPending {
		t.Errorf("M-extra status = %q, want pending", extra.Status)
	}
}

func TestEvaluate_LimitReached(t *testing.T) {
	db := openChainTestDB(t)
	ev := New(db, chainCfg(1))

	// First completion chains the only pending job.
	seedPending(t, db, "M-2", "MAP-A")
	res, err := ev.Evaluate(Completion{
		RobotID: "robot-1", MissionCode: "M-1",
		CurrentMapCode: "MAP-A", OriginalMapCode: "MAP-HOME",
	})
	if err != nil {
		t.Fatalf("Evaluate 1: %v", err)
	}
	if res.Decision != models.DecisionJobChained {
		t.Fatalf("Decision 1 = %q, want job_chained", res.Decision)
	}

	// Second completion in the same map: the counter is at the limit even
	// though more work is pending.
	seedPending(t, db, "M-3", "MAP-A")
	res, err = ev.Evaluate(Completion{
		RobotID: "robot-1", MissionCode: "M-2",
		CurrentMapCode: "MAP-A", OriginalMapCode: "MAP-HOME",
	})
	if err != nil {
		t.Fatalf("Evaluate 2: %v", err)
	}
	if res.Decision != models.DecisionLimitReached {
		t.Errorf("Decision 2 = %q, want limit_reached (%s)", res.Decision, res.Reason)
	}

	// M-3 was not drawn.
	m3, _ := store.Get(db, "M-3")
	if m3.Status != models.MissionPending {
		t.Errorf("M-3 status = %q, want pending", m3.Status)
	}
}

func TestEvaluate_NoJobsAvailable(t *testing.T) {
	db := openChainTestDB(t)
	ev := New(db, chainCfg(3))

	res, err := ev.Evaluate(Completion{
		RobotID: "robot-1", MissionCode: "M-1",
		CurrentMapCode: "MAP-A", OriginalMapCode: "MAP-HOME",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Decision != models.DecisionNoJobsAvailable {
		t.Errorf("Decision = %q, want no_jobs_available", res.Decision)
	}
}

func TestEvaluate_ZeroDisablesChaining(t *testing.T) {
	db := openChainTestDB(t)
	seedPending(t, db, "M-next", "MAP-A")
	cfg := config.ChainingConfig{
		DefaultMax:         2,
		MaxConsecutiveJobs: map[string]int{"MAP-A": 0},
	}
	ev := New(db, cfg)

	res, err := ev.Evaluate(Completion{
		RobotID: "robot-1", MissionCode: "M-1", CurrentMapCode: "MAP-A",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Decision != models.DecisionReturnToOriginal {
		t.Errorf("Decision = %q, want return_to_original", res.Decision)
	}
	next, _ := store.Get(db, "M-next")
	if next.Status != models.MissionPending {
		t.Error("disabled chaining must not draw jobs")
	}
}

func TestEvaluate_CrossMapOnlyAfterSameMap(t *testing.T) {
	db := openChainTestDB(t)
	seedPending(t, db, "M-home", "MAP-HOME")
	cfg := chainCfg(2)
	cfg.CrossMapEnabled = true
	ev := New(db, cfg)

	res, err := ev.Evaluate(Completion{
		RobotID: "robot-1", MissionCode: "M-1",
		CurrentMapCode: "MAP-A", OriginalMapCode: "MAP-HOME",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Decision != models.DecisionJobChained || res.ChainedMissionCode != "M-home" {
		t.Errorf("cross-map: got %+v, want chained M-home", res)
	}
}

func TestEvaluate_CrossMapDisabledByDefault(t *testing.T) {
	db := openChainTestDB(t)
	seedPending(t, db, "M-home", "MAP-HOME")
	ev := New(db, chainCfg(2))

	res, err := ev.Evaluate(Completion{
		RobotID: "robot-1", MissionCode: "M-1",
		CurrentMapCode: "MAP-A", OriginalMapCode: "MAP-HOME",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Decision != models.DecisionNoJobsAvailable {
		t.Errorf("Decision = %q, want no_jobs_available when cross-map is off", res.Decision)
	}
}

func TestEvaluate_CounterResetsOnMapChange(t *testing.T) {
	db := openChainTestDB(t)
	ev := New(db, chainCfg(1))

	seedPending(t, db, "M-a2", "MAP-A")
	if res, _ := ev.Evaluate(Completion{RobotID: "r", MissionCode: "M-a1", CurrentMapCode: "MAP-A"}); res.Decision != models.DecisionJobChained {
		t.Fatalf("setup chain failed: %+v", res)
	}

	// Robot moved to MAP-B: the same-map counter starts over.
	seedPending(t, db, "M-b2", "MAP-B")
	res, err := ev.Evaluate(Completion{RobotID: "r", MissionCode: "M-b1", CurrentMapCode: "MAP-B"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Decision != models.DecisionJobChained {
		t.Errorf("Decision = %q, want job_chained after map change (%s)", res.Decision, res.Reason)
	}
}

func TestEvaluate_Validation(t *testing.T) {
	db := openChainTestDB(t)
	ev := New(db, chainCfg(1))

	if _, err := ev.Evaluate(Completion{MissionCode: "M-1"}); err == nil {
		t.Error("expected error for missing robotId")
	}
	if _, err := ev.Evaluate(Completion{RobotID: "r"}); err == nil {
		t.Error("expected error for missing missionCode")
	}
}
