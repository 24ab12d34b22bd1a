package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/fault"
)

// HTTPClient talks JSON over HTTP to a real AMR deployment.
type HTTPClient struct {
	baseURL string
	orgID   string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds an HTTPClient from gateway configuration.
func NewHTTPClient(cfg config.GatewayConfig, orgID string) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		orgID:   orgID,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

// post sends a JSON body and decodes the JSON answer into out. Transport
// failures surface as UpstreamUnavailable so the poll loops record and
// retry instead of crashing.
func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.UpstreamUnavailable, err, "POST %s", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Wrap(fault.UpstreamUnavailable, err, "read %s response", path)
	}
	if resp.StatusCode >= 500 {
		return fault.New(fault.UpstreamUnavailable, "POST %s: status %d: %s", path, resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: decode %s response: %w", path, err)
	}
	return nil
}

// SubmitMission dispatches one mission to the AMR system.
func (c *HTTPClient) SubmitMission(ctx context.Context, req SubmitRequest) (*Response, error) {
	if req.OrgID == "" {
		req.OrgID = c.orgID
	}
	var resp Response
	if err := c.post(ctx, "/api/mission/submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelMission asks the AMR system to stop a mission.
func (c *HTTPClient) CancelMission(ctx context.Context, req CancelRequest) (*Response, error) {
	var resp Response
	if err := c.post(ctx, "/api/mission/cancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OperationFeedback reports a handled manual waypoint.
func (c *HTTPClient) OperationFeedback(ctx context.Context, requestID, missionCode, position string) (*Response, error) {
	body := map[string]string{
		"requestId":   requestID,
		"missionCode": missionCode,
		"position":    position,
	}
	var resp Response
	if err := c.post(ctx, "/api/mission/feedback", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueryRobot fetches one robot's state.
func (c *HTTPClient) QueryRobot(ctx context.Context, q RobotQuery) (*RobotInfo, error) {
	if q.RobotID == "" {
		return nil, fault.New(fault.ValidationFailed, "robotId is required")
	}
	var info RobotInfo
	if err := c.post(ctx, "/api/robot/query", q, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// QueryJobs lists job records, newest first.
func (c *HTTPClient) QueryJobs(ctx context.Context, q JobsQuery) ([]Job, error) {
	var jobs []Job
	if err := c.post(ctx, "/api/job/query", q, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}
