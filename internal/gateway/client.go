// Package gateway defines the contract with the external AMR control
// system. The core only depends on the Client interface; the HTTP client
// talks to a real deployment and the simulator stands in for one.
package gateway

import "context"

// Response codes returned by the AMR system.
const (
	CodeOK       = "0"
	CodeConflict = "100408"
)

// Response is the common acknowledgement envelope.
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// SubmitStep is one waypoint of a direct (non-template) submission.
type SubmitStep struct {
	Sequence      int    `json:"sequence"`
	Position      string `json:"position"`
	PassStrategy  string `json:"passStrategy"`
	WaitingMillis int    `json:"waitingMillis,omitempty"`
}

// SubmitRequest carries one mission submission to the AMR system.
// Either TemplateCode or MissionSteps must be set.
type SubmitRequest struct {
	OrgID         string       `json:"orgId"`
	RequestID     string       `json:"requestId"`
	MissionCode   string       `json:"missionCode"`
	TemplateCode  string       `json:"templateCode,omitempty"`
	MissionSteps  []SubmitStep `json:"missionSteps,omitempty"`
	RobotModels   []string     `json:"robotModels,omitempty"`
	RobotIDs      []string     `json:"robotIds,omitempty"`
	Priority      int          `json:"priority"`
	ContainerCode string       `json:"containerCode,omitempty"`
}

// CancelRequest asks the AMR system to stop a mission.
type CancelRequest struct {
	RequestID   string `json:"requestId"`
	MissionCode string `json:"missionCode"`
	CancelMode  string `json:"cancelMode"`
	Reason      string `json:"reason,omitempty"`
}

// RobotQuery selects one robot.
type RobotQuery struct {
	RobotID     string `json:"robotId"`
	RobotType   string `json:"robotType,omitempty"`
	MapCode     string `json:"mapCode,omitempty"`
	FloorNumber int    `json:"floorNumber,omitempty"`
}

// RobotInfo is the AMR system's view of one robot.
type RobotInfo struct {
	RobotID      string `json:"robotId"`
	NodeCode     string `json:"nodeCode"`
	MissionCode  string `json:"missionCode,omitempty"`
	Status       int    `json:"status"`
	BatteryLevel int    `json:"batteryLevel"`
	MapCode      string `json:"mapCode,omitempty"`
}

// JobsQuery filters the AMR system's job list.
type JobsQuery struct {
	MissionCode string `json:"missionCode,omitempty"`
	RobotID     string `json:"robotId,omitempty"`
	Status      string `json:"status,omitempty"`
	MapCode     string `json:"mapCode,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// Job is one job record returned by QueryJobs, newest first.
type Job struct {
	MissionCode string `json:"missionCode"`
	RequestID   string `json:"requestId"`
	RobotID     string `json:"robotId,omitempty"`
	Status      string `json:"status"`
	MapCode     string `json:"mapCode,omitempty"`
	CreatedUtc  string `json:"createdUtc"`
}

// Client is the operations surface the core calls on the AMR system.
type Client interface {
	SubmitMission(ctx context.Context, req SubmitRequest) (*Response, error)
	CancelMission(ctx context.Context, req CancelRequest) (*Response, error)
	OperationFeedback(ctx context.Context, requestID, missionCode, position string) (*Response, error)
	QueryRobot(ctx context.Context, q RobotQuery) (*RobotInfo, error)
	QueryJobs(ctx context.Context, q JobsQuery) ([]Job, error)
}
