package gateway

import (
	"context"
	"time"

	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/store"
	"github.com/zulandar/amrbridge/internal/tracker"
	"gorm.io/gorm"
)

// Simulator implements Client against the local store and tracker, so the
// whole dispatch pipeline runs without a physical fleet. Status and
// position answers follow the tracker's elapsed-time progression.
type Simulator struct {
	db *gorm.DB
	tr *tracker.Tracker
}

var _ Client = (*Simulator)(nil)

// NewSimulator builds a Simulator over the shared store and tracker.
func NewSimulator(db *gorm.DB, tr *tracker.Tracker) *Simulator {
	return &Simulator{db: db, tr: tr}
}

func ok() *Response {
	return &Response{Code: CodeOK, Message: "success", Success: true}
}

// SubmitMission accepts a mission into the simulated AMR system. Reused
// identifiers answer the conflict code instead of an error, matching the
// real system's envelope.
func (s *Simulator) SubmitMission(ctx context.Context, req SubmitRequest) (*Response, error) {
	steps := make([]store.StepRequest, 0, len(req.MissionSteps))
	for _, st := range req.MissionSteps {
		steps = append(steps, store.StepRequest{
			Position:      st.Position,
			PassStrategy:  st.PassStrategy,
			WaitingMillis: st.WaitingMillis,
		})
	}
	robotID := ""
	if len(req.RobotIDs) > 0 {
		robotID = req.RobotIDs[0]
	}
	_, err := store.Submit(s.db, store.SubmitRequest{
		MissionCode:   req.MissionCode,
		RequestID:     req.RequestID,
		TemplateCode:  req.TemplateCode,
		Priority:      req.Priority,
		ContainerCode: req.ContainerCode,
		TriggerSource: "direct",
		Creator:       robotID,
		Steps:         steps,
	})
	switch {
	case fault.IsKind(err, fault.Conflict):
		return &Response{Code: CodeConflict, Message: err.Error(), Success: false}, nil
	case err != nil:
		return nil, err
	}
	return ok(), nil
}

// CancelMission stops a simulated mission.
func (s *Simulator) CancelMission(ctx context.Context, req CancelRequest) (*Response, error) {
	if err := store.Cancel(s.db, req.MissionCode, req.RequestID, req.CancelMode, req.Reason); err != nil {
		return nil, err
	}
	return ok(), nil
}

// OperationFeedback forwards a manual-waypoint confirmation to the tracker.
func (s *Simulator) OperationFeedback(ctx context.Context, requestID, missionCode, position string) (*Response, error) {
	if err := s.tr.OperationFeedback(missionCode, position); err != nil {
		return nil, err
	}
	return ok(), nil
}

// QueryRobot answers from the tracker's simulated robot state.
func (s *Simulator) QueryRobot(ctx context.Context, q RobotQuery) (*RobotInfo, error) {
	state, err := s.tr.QueryRobot(q.RobotID)
	if err != nil {
		return nil, err
	}
	return &RobotInfo{
		RobotID:      state.RobotID,
		NodeCode:     state.NodeCode,
		MissionCode:  state.MissionCode,
		Status:       state.Status,
		BatteryLevel: 100,
		MapCode:      q.MapCode,
	}, nil
}

// QueryJobs lists simulated jobs, newest first, defaulting to 10 rows.
func (s *Simulator) QueryJobs(ctx context.Context, q JobsQuery) ([]Job, error) {
	items, err := store.Query(s.db, store.QueryFilter{
		MissionCode: q.MissionCode,
		RobotID:     q.RobotID,
		Status:      q.Status,
		Limit:       q.Limit,
	})
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(items))
	for _, it := range items {
		job := Job{
			MissionCode: it.MissionCode,
			RequestID:   it.RequestID,
			Status:      it.Status,
			MapCode:     it.MapCode,
			CreatedUtc:  it.CreatedUtc.Format(time.RFC3339),
		}
		if it.AssignedRobotID != nil {
			job.RobotID = *it.AssignedRobotID
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
