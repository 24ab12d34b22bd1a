package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/amrbridge/internal/chaining"
	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/gateway"
	"github.com/zulandar/amrbridge/internal/models"
	"github.com/zulandar/amrbridge/internal/notify"
	"github.com/zulandar/amrbridge/internal/store"
	"github.com/zulandar/amrbridge/internal/tracker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDispatchTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.MissionQueueItem{}, &models.MissionStep{}, &models.MissionHistory{},
		&models.Robot{}, &models.RobotJobOpportunity{}, &models.AreaNode{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeGateway scripts SubmitMission outcomes in call order, records the
// submissions it saw, and answers robot queries from a scripted map.
type fakeGateway struct {
	submitted []string
	requests  []gateway.SubmitRequest
	responses []func() (*gateway.Response, error)
	robots    map[string]gateway.RobotInfo
}

func (f *fakeGateway) SubmitMission(ctx context.Context, req gateway.SubmitRequest) (*gateway.Response, error) {
	f.submitted = append(f.submitted, req.MissionCode)
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return &gateway.Response{Code: gateway.CodeOK, Success: true}, nil
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next()
}

func (f *fakeGateway) CancelMission(ctx context.Context, req gateway.CancelRequest) (*gateway.Response, error) {
	return &gateway.Response{Code: gateway.CodeOK, Success: true}, nil
}

func (f *fakeGateway) OperationFeedback(ctx context.Context, requestID, missionCode, position string) (*gateway.Response, error) {
	return &gateway.Response{Code: gateway.CodeOK, Success: true}, nil
}

func (f *fakeGateway) QueryRobot(ctx context.Context, q gateway.RobotQuery) (*gateway.RobotInfo, error) {
	info, ok := f.robots[q.RobotID]
	if !ok {
		return nil, fault.New(fault.NotFound, "robot %s not found", q.RobotID)
	}
	return &info, nil
}

func (f *fakeGateway) QueryJobs(ctx context.Context, q gateway.JobsQuery) ([]gateway.Job, error) {
	return nil, nil
}

type fakeNotifier struct {
	alerts []notify.Alert
}

func (f *fakeNotifier) Send(ctx context.Context, alert notify.Alert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) Name() string { return "fake" }

func newDispatcher(db *gorm.DB, gw gateway.Client, trackerCfg config.TrackerConfig, n notify.Notifier) (*Dispatcher, *tracker.Tracker) {
	tr := tracker.New(db, trackerCfg)
	ev := chaining.New(db, config.ChainingConfig{DefaultMax: 3})
	cfg := config.DispatcherConfig{PollSeconds: 1, DrainBatch: 10}
	return New(db, cfg, "org-1", gw, tr, ev, n), tr
}

// slowTracker keeps missions in the Created phase for the whole test.
func slowTracker() config.TrackerConfig {
	return config.TrackerConfig{CreatedSeconds: 3600, ExecutingSeconds: 3600, WaitingSeconds: 3600, FinalSeconds: 3600}
}

// instantTracker reports Completed on the first status query.
func instantTracker() config.TrackerConfig {
	return config.TrackerConfig{}
}

func seedPending(t *testing.T, db *gorm.DB, code, mapCode string, priority int) {
	t.Helper()
	_, err := store.Submit(db, store.SubmitRequest{
		MissionCode: code,
		RequestID:   "req-" + code,
		MapCode:     mapCode,
		Priority:    priority,
		Steps:       []store.StepRequest{{Position: "N-1"}},
	})
	if err != nil {
		t.Fatalf("Submit %s: %v", code, err)
	}
}

func missionStatus(t *testing.T, db *gorm.DB, code string) models.MissionQueueItem {
	t.Helper()
	var item models.MissionQueueItem
	if err := db.Where("mission_code = ?", code).First(&item).Error; err != nil {
		t.Fatalf("load %s: %v", code, err)
	}
	return item
}

func TestTickDrainsPendingByPriority(t *testing.T) {
	db := openDispatchTestDB(t)
	gw := &fakeGateway{}
	d, _ := newDispatcher(db, gw, slowTracker(), nil)

	seedPending(t, db, "M-LOW", "MAP-A", 1)
	seedPending(t, db, "M-HIGH", "MAP-A", 9)

	d.Tick(context.Background())

	if len(gw.submitted) != 2 || gw.submitted[0] != "M-HIGH" || gw.submitted[1] != "M-LOW" {
		t.Fatalf("submitted = %v, want [M-HIGH M-LOW]", gw.submitted)
	}
	for _, code := range []string{"M-HIGH", "M-LOW"} {
		item := missionStatus(t, db, code)
		if item.Status != models.MissionSubmittedToAmr {
			t.Errorf("%s status = %s, want %s", code, item.Status, models.MissionSubmittedToAmr)
		}
		if item.SubmittedToAmrUtc == nil {
			t.Errorf("%s has no submitted timestamp", code)
		}
	}
}

func TestUpstreamOutageRetriesNextTick(t *testing.T) {
	db := openDispatchTestDB(t)
	gw := &fakeGateway{responses: []func() (*gateway.Response, error){
		func() (*gateway.Response, error) {
			return nil, fault.New(fault.UpstreamUnavailable, "gateway: connection refused")
		},
	}}
	d, _ := newDispatcher(db, gw, slowTracker(), nil)

	seedPending(t, db, "M-RETRY", "MAP-A", 0)

	d.Tick(context.Background())
	item := missionStatus(t, db, "M-RETRY")
	if item.Status != models.MissionReadyToAssign {
		t.Fatalf("after outage: status = %s, want %s", item.Status, models.MissionReadyToAssign)
	}
	if item.ErrorMessage == "" {
		t.Error("after outage: error message not recorded")
	}

	// The scripted failure is exhausted; the next tick succeeds.
	d.Tick(context.Background())
	item = missionStatus(t, db, "M-RETRY")
	if item.Status != models.MissionSubmittedToAmr {
		t.Fatalf("after retry: status = %s, want %s", item.Status, models.MissionSubmittedToAmr)
	}
	if item.ErrorMessage != "" {
		t.Errorf("after retry: error message = %q, want cleared", item.ErrorMessage)
	}
	if len(gw.submitted) != 2 {
		t.Errorf("gateway calls = %d, want 2", len(gw.submitted))
	}
}

func TestGatewayRejectionFailsMissionAndAlerts(t *testing.T) {
	db := openDispatchTestDB(t)
	gw := &fakeGateway{responses: []func() (*gateway.Response, error){
		func() (*gateway.Response, error) {
			return &gateway.Response{Code: gateway.CodeConflict, Message: "duplicate missionCode"}, nil
		},
	}}
	notifier := &fakeNotifier{}
	d, _ := newDispatcher(db, gw, slowTracker(), notifier)

	seedPending(t, db, "M-REJECT", "MAP-A", 0)
	d.Tick(context.Background())

	item := missionStatus(t, db, "M-REJECT")
	if item.Status != models.MissionFailed {
		t.Fatalf("status = %s, want %s", item.Status, models.MissionFailed)
	}
	var archived int64
	db.Model(&models.MissionHistory{}).Where("mission_code = ?", "M-REJECT").Count(&archived)
	if archived != 1 {
		t.Errorf("history rows = %d, want 1", archived)
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(notifier.alerts))
	}
	if got := notifier.alerts[0].Title; got != "Mission M-REJECT failed" {
		t.Errorf("alert title = %q", got)
	}
}

func TestPollCompletesArchivesAndChains(t *testing.T) {
	db := openDispatchTestDB(t)
	gw := &fakeGateway{}
	d, _ := newDispatcher(db, gw, instantTracker(), nil)
	// Keep the drain phase quiet so the pending job stays claimable.
	d.cfg.DrainBatch = 0

	robot := "AMR-01"
	db.Create(&models.Robot{RobotID: robot, MapCode: "MAP-A", NodeCode: "N-1"})
	db.Create(&models.MissionQueueItem{
		MissionCode:     "M-DONE",
		RequestID:       "req-done",
		MapCode:         "MAP-A",
		Status:          models.MissionSubmittedToAmr,
		AssignedRobotID: &robot,
		CreatedUtc:      time.Now().UTC(),
	})
	seedPending(t, db, "M-NEXT", "MAP-A", 0)

	d.Tick(context.Background())

	done := missionStatus(t, db, "M-DONE")
	if done.Status != models.MissionCompleted {
		t.Fatalf("M-DONE status = %s, want %s", done.Status, models.MissionCompleted)
	}
	if done.CompletedUtc == nil {
		t.Error("M-DONE has no completion timestamp")
	}
	var archived int64
	db.Model(&models.MissionHistory{}).Where("mission_code = ?", "M-DONE").Count(&archived)
	if archived != 1 {
		t.Errorf("history rows = %d, want 1", archived)
	}

	next := missionStatus(t, db, "M-NEXT")
	if next.Status != models.MissionAssigned {
		t.Fatalf("M-NEXT status = %s, want %s", next.Status, models.MissionAssigned)
	}
	if next.AssignedRobotID == nil || *next.AssignedRobotID != robot {
		t.Errorf("M-NEXT robot = %v, want %s", next.AssignedRobotID, robot)
	}

	var opp models.RobotJobOpportunity
	if err := db.Where("robot_id = ? AND completed_mission_code = ?", robot, "M-DONE").First(&opp).Error; err != nil {
		t.Fatalf("load opportunity: %v", err)
	}
	if opp.Decision != models.DecisionJobChained {
		t.Errorf("decision = %s, want %s", opp.Decision, models.DecisionJobChained)
	}
}

// A mission claimed for a robot straight from the pending queue must
// still reach the gateway, carrying its robot with it.
func TestDrainSubmitsClaimedMissions(t *testing.T) {
	db := openDispatchTestDB(t)
	gw := &fakeGateway{}
	d, _ := newDispatcher(db, gw, slowTracker(), nil)

	robot := "AMR-01"
	seedPending(t, db, "M-CHAIN", "MAP-A", 0)
	claimed, err := store.NextPending(db, robot, "MAP-A")
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if claimed.Status != models.MissionAssigned {
		t.Fatalf("claimed status = %s, want %s", claimed.Status, models.MissionAssigned)
	}

	d.Tick(context.Background())

	if len(gw.submitted) != 1 || gw.submitted[0] != "M-CHAIN" {
		t.Fatalf("submitted = %v, want [M-CHAIN]", gw.submitted)
	}
	if got := gw.requests[0].RobotIDs; len(got) != 1 || got[0] != robot {
		t.Errorf("submission robots = %v, want [%s]", got, robot)
	}
	item := missionStatus(t, db, "M-CHAIN")
	if item.Status != models.MissionSubmittedToAmr {
		t.Fatalf("status = %s, want %s", item.Status, models.MissionSubmittedToAmr)
	}
	if item.AssignedRobotID == nil || *item.AssignedRobotID != robot {
		t.Errorf("robot = %v, want %s kept through submission", item.AssignedRobotID, robot)
	}
}

func TestPollRobotAnswerAdvancesToExecuting(t *testing.T) {
	db := openDispatchTestDB(t)
	robot := "AMR-01"
	gw := &fakeGateway{robots: map[string]gateway.RobotInfo{
		robot: {RobotID: robot, MissionCode: "M-RUN", Status: tracker.RobotExecuting, NodeCode: "N-2"},
	}}
	d, _ := newDispatcher(db, gw, slowTracker(), nil)
	d.cfg.DrainBatch = 0

	db.Create(&models.MissionQueueItem{
		MissionCode:     "M-RUN",
		RequestID:       "req-run",
		MapCode:         "MAP-A",
		Status:          models.MissionSubmittedToAmr,
		AssignedRobotID: &robot,
		CreatedUtc:      time.Now().UTC(),
	})

	d.Tick(context.Background())

	item := missionStatus(t, db, "M-RUN")
	if item.Status != models.MissionExecuting {
		t.Fatalf("status = %s, want %s", item.Status, models.MissionExecuting)
	}
}

func TestPollRobotMovedOnCompletesMission(t *testing.T) {
	db := openDispatchTestDB(t)
	robot := "AMR-01"
	gw := &fakeGateway{robots: map[string]gateway.RobotInfo{
		robot: {RobotID: robot, Status: tracker.RobotIdle, NodeCode: "N-5"},
	}}
	d, _ := newDispatcher(db, gw, slowTracker(), nil)
	d.cfg.DrainBatch = 0

	db.Create(&models.MissionQueueItem{
		MissionCode:     "M-HANDOFF",
		RequestID:       "req-handoff",
		MapCode:         "MAP-A",
		Status:          models.MissionSubmittedToAmr,
		AssignedRobotID: &robot,
		CreatedUtc:      time.Now().UTC(),
	})

	d.Tick(context.Background())

	item := missionStatus(t, db, "M-HANDOFF")
	if item.Status != models.MissionCompleted {
		t.Fatalf("status = %s, want %s", item.Status, models.MissionCompleted)
	}
	if item.CompletedUtc == nil {
		t.Error("no completion timestamp")
	}
	var archived int64
	db.Model(&models.MissionHistory{}).Where("mission_code = ?", "M-HANDOFF").Count(&archived)
	if archived != 1 {
		t.Errorf("history rows = %d, want 1", archived)
	}
}

func TestPollForgetsCancelledMissions(t *testing.T) {
	db := openDispatchTestDB(t)
	gw := &fakeGateway{}
	d, tr := newDispatcher(db, gw, slowTracker(), nil)
	d.cfg.DrainBatch = 0

	cancelled := time.Now().UTC().Add(-time.Minute)
	db.Create(&models.MissionQueueItem{
		MissionCode:  "M-GONE",
		RequestID:    "req-gone",
		Status:       models.MissionExecuting,
		CreatedUtc:   cancelled,
		CancelledUtc: &cancelled,
	})

	// Cancel through the store so the record is terminal before the poll.
	if err := store.Cancel(db, "M-GONE", "", store.CancelForce, "operator stop"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	d.Tick(context.Background())

	// The tracker reports cancelled and stops; a later status query still
	// answers from the archive row in the queue table.
	status, err := tr.Status("M-GONE")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != tracker.StatusCancelled {
		t.Errorf("status = %d, want %d", status, tracker.StatusCancelled)
	}
}
