package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/amrbridge/internal/fault"
	"github.com/zulandar/amrbridge/internal/gateway"
	"github.com/zulandar/amrbridge/internal/models"
	"github.com/zulandar/amrbridge/internal/schedule"
	"github.com/zulandar/amrbridge/internal/store"
	"github.com/zulandar/amrbridge/internal/tracker"
	"github.com/zulandar/amrbridge/internal/utilization"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router. Mission-control
// operations (cancel, feedback, robot state) go through the gateway client
// so the same handlers serve a simulated or a real fleet.
func registerRoutes(router *gin.Engine, db *gorm.DB, gw gateway.Client, tr *tracker.Tracker, runner *schedule.Runner) {
	v1 := router.Group("/api/v1")

	v1.POST("/missions", handleSubmit(db))
	v1.POST("/missions/cancel", handleCancel(gw))
	v1.GET("/missions", handleMissionQuery(db))
	v1.GET("/missions/:missionCode", handleMissionGet(db, tr))
	v1.POST("/feedback", handleFeedback(gw))
	v1.GET("/robots/:id", handleRobot(gw))
	v1.GET("/utilization/:robotId", handleUtilization(db))
	v1.GET("/events", handleEvents(db, tr))

	if runner != nil {
		v1.POST("/schedules", handleScheduleCreate(runner))
		v1.GET("/schedules", handleScheduleList(db))
		v1.PATCH("/schedules/:id", handleScheduleUpdate(db))
	}
}

// statusFor maps a fault kind to an HTTP status code.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.ValidationFailed, fault.InvalidSchedule:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Conflict, fault.LockNotHeld:
		return http.StatusConflict
	case fault.UpstreamUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if kind := fault.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	c.JSON(statusFor(err), body)
}

type stepRequest struct {
	Position      string `json:"position"`
	PassStrategy  string `json:"passStrategy"`
	WaitingMillis int    `json:"waitingMillis"`
}

type submitRequest struct {
	MissionCode   string        `json:"missionCode"`
	RequestID     string        `json:"requestId"`
	TemplateCode  string        `json:"templateCode"`
	MissionType   string        `json:"missionType"`
	Priority      int           `json:"priority"`
	SourceCode    string        `json:"sourceCode"`
	MapCode       string        `json:"mapCode"`
	ContainerCode string        `json:"containerCode"`
	TargetCell    string        `json:"targetCell"`
	WorkflowID    string        `json:"workflowId"`
	WorkflowCode  string        `json:"workflowCode"`
	WorkflowName  string        `json:"workflowName"`
	Creator       string        `json:"creator"`
	Steps         []stepRequest `json:"steps"`
}

func handleSubmit(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fault.New(fault.ValidationFailed, "invalid request body: %v", err))
			return
		}
		// Numeric source codes from upstream callers are stored by name.
		if code, err := strconv.Atoi(req.SourceCode); err == nil {
			req.SourceCode = store.SourceCodeName(code)
		}
		sub := store.SubmitRequest{
			MissionCode:   req.MissionCode,
			RequestID:     req.RequestID,
			TemplateCode:  req.TemplateCode,
			MissionType:   req.MissionType,
			Priority:      req.Priority,
			TriggerSource: models.TriggerAPI,
			SourceCode:    req.SourceCode,
			MapCode:       req.MapCode,
			ContainerCode: req.ContainerCode,
			TargetCell:    req.TargetCell,
			WorkflowID:    req.WorkflowID,
			WorkflowCode:  req.WorkflowCode,
			WorkflowName:  req.WorkflowName,
			Creator:       req.Creator,
		}
		for _, s := range req.Steps {
			sub.Steps = append(sub.Steps, store.StepRequest{
				Position:      s.Position,
				PassStrategy:  s.PassStrategy,
				WaitingMillis: s.WaitingMillis,
			})
		}
		item, err := store.Submit(db, sub)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"missionCode": item.MissionCode,
			"requestId":   item.RequestID,
			"status":      item.Status,
		})
	}
}

type cancelRequest struct {
	MissionCode string `json:"missionCode"`
	RequestID   string `json:"requestId"`
	CancelMode  string `json:"cancelMode"`
	Reason      string `json:"reason"`
}

func handleCancel(gw gateway.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fault.New(fault.ValidationFailed, "invalid request body: %v", err))
			return
		}
		if req.CancelMode == "" {
			req.CancelMode = store.CancelNormal
		}
		resp, err := gw.CancelMission(c.Request.Context(), gateway.CancelRequest{
			RequestID:   req.RequestID,
			MissionCode: req.MissionCode,
			CancelMode:  req.CancelMode,
			Reason:      req.Reason,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		if !resp.Success {
			writeError(c, cancelRejected(resp))
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

// cancelRejected turns a gateway rejection envelope into a fault.
func cancelRejected(resp *gateway.Response) error {
	if resp.Code == gateway.CodeConflict {
		return fault.New(fault.Conflict, "cancel rejected: %s", resp.Message)
	}
	return fault.New(fault.UpstreamUnavailable, "cancel rejected (code %s): %s", resp.Code, resp.Message)
}

func handleMissionQuery(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := store.QueryFilter{
			MissionCode:   c.Query("missionCode"),
			Status:        c.Query("status"),
			RobotID:       c.Query("robotId"),
			WorkflowID:    c.Query("workflowId"),
			WorkflowCode:  c.Query("workflowCode"),
			WorkflowName:  c.Query("workflowName"),
			ContainerCode: c.Query("containerCode"),
			TargetCell:    c.Query("targetCell"),
			Creator:       c.Query("creator"),
		}
		if v := c.Query("mapCodes"); v != "" {
			f.MapCodes = strings.Split(v, ",")
		}
		if v := c.Query("sourceCode"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(c, fault.New(fault.ValidationFailed, "sourceCode %q is not numeric", v))
				return
			}
			f.SourceCode = n
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(c, fault.New(fault.ValidationFailed, "limit %q is not numeric", v))
				return
			}
			f.Limit = n
		}
		items, err := store.Query(db, f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"missions": missionViews(items), "count": len(items)})
	}
}

type missionView struct {
	MissionCode  string     `json:"missionCode"`
	RequestID    string     `json:"requestId"`
	TemplateCode string     `json:"templateCode,omitempty"`
	MissionType  string     `json:"missionType"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	SourceName   string     `json:"sourceName"`
	MapCode      string     `json:"mapCode,omitempty"`
	RobotID      string     `json:"robotId,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedUtc   time.Time  `json:"createdUtc"`
	CompletedUtc *time.Time `json:"completedUtc,omitempty"`
}

func missionViews(items []models.MissionQueueItem) []missionView {
	views := make([]missionView, 0, len(items))
	for _, it := range items {
		v := missionView{
			MissionCode:  it.MissionCode,
			RequestID:    it.RequestID,
			TemplateCode: it.TemplateCode,
			MissionType:  it.MissionType,
			Status:       it.Status,
			Priority:     it.Priority,
			MapCode:      it.MapCode,
			ErrorMessage: it.ErrorMessage,
			CreatedUtc:   it.CreatedUtc,
			CompletedUtc: it.CompletedUtc,
		}
		v.SourceName = it.SourceCode
		if v.SourceName == "" {
			v.SourceName = store.SourceCodeName(0)
		}
		if it.AssignedRobotID != nil {
			v.RobotID = *it.AssignedRobotID
		}
		views = append(views, v)
	}
	return views
}

func handleMissionGet(db *gorm.DB, tr *tracker.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("missionCode")
		item, err := store.Get(db, code)
		if err != nil {
			writeError(c, err)
			return
		}
		view := missionViews([]models.MissionQueueItem{*item})[0]
		body := gin.H{"mission": view}
		if !models.Terminal(item.Status) && item.Status == models.MissionExecuting {
			if status, serr := tr.Status(code); serr == nil {
				body["trackerStatus"] = status
			}
			if node, waiting, perr := tr.Position(code); perr == nil {
				body["node"] = node
				body["waitingForFeedback"] = waiting
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

type feedbackRequest struct {
	MissionCode string `json:"missionCode"`
	RequestID   string `json:"requestId"`
	Position    string `json:"position"`
}

func handleFeedback(gw gateway.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fault.New(fault.ValidationFailed, "invalid request body: %v", err))
			return
		}
		if _, err := gw.OperationFeedback(c.Request.Context(), req.RequestID, req.MissionCode, req.Position); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	}
}

func handleRobot(gw gateway.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := gw.QueryRobot(c.Request.Context(), gateway.RobotQuery{RobotID: c.Param("id")})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"robotId":      info.RobotID,
			"nodeCode":     info.NodeCode,
			"missionCode":  info.MissionCode,
			"status":       info.Status,
			"batteryLevel": info.BatteryLevel,
		})
	}
}

func handleUtilization(db *gorm.DB) gin.HandlerFunc {
	agg := utilization.New(db)
	return func(c *gin.Context) {
		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			writeError(c, fault.New(fault.ValidationFailed, "from must be RFC3339: %v", err))
			return
		}
		to, err := time.Parse(time.RFC3339, c.Query("to"))
		if err != nil {
			writeError(c, fault.New(fault.ValidationFailed, "to must be RFC3339: %v", err))
			return
		}
		g := utilization.Granularity(c.DefaultQuery("granularity", string(utilization.ByHour)))

		report, err := agg.Report(c.Param("robotId"), from.UTC(), to.UTC(), g)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

type scheduleRequest struct {
	Name            string `json:"name"`
	TemplateCode    string `json:"templateCode"`
	MapCode         string `json:"mapCode"`
	Priority        int    `json:"priority"`
	TriggerType     string `json:"triggerType"`
	CronExpr        string `json:"cronExpr"`
	IntervalMinutes int    `json:"intervalMinutes"`
	FireAt          string `json:"fireAt"`
	Timezone        string `json:"timezone"`
	SkipIfRunning   bool   `json:"skipIfRunning"`
}

func handleScheduleCreate(runner *schedule.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fault.New(fault.ValidationFailed, "invalid request body: %v", err))
			return
		}
		def := &models.ScheduleDefinition{
			Name:            req.Name,
			TemplateCode:    req.TemplateCode,
			MapCode:         req.MapCode,
			Priority:        req.Priority,
			TriggerType:     req.TriggerType,
			CronExpr:        req.CronExpr,
			IntervalMinutes: req.IntervalMinutes,
			Timezone:        req.Timezone,
			SkipIfRunning:   req.SkipIfRunning,
		}
		if req.FireAt != "" {
			at, err := time.Parse(time.RFC3339, req.FireAt)
			if err != nil {
				writeError(c, fault.New(fault.InvalidSchedule, "fireAt must be RFC3339: %v", err))
				return
			}
			utc := at.UTC()
			def.FireAt = &utc
		}
		if err := runner.Create(def); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, scheduleView(def))
	}
}

func handleScheduleList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var defs []models.ScheduleDefinition
		if err := db.Order("id ASC").Find(&defs).Error; err != nil {
			writeError(c, err)
			return
		}
		views := make([]gin.H, 0, len(defs))
		for i := range defs {
			views = append(views, scheduleView(&defs[i]))
		}
		c.JSON(http.StatusOK, gin.H{"schedules": views})
	}
}

type scheduleUpdate struct {
	IsEnabled       *bool   `json:"isEnabled"`
	SkipIfRunning   *bool   `json:"skipIfRunning"`
	Priority        *int    `json:"priority"`
	CronExpr        *string `json:"cronExpr"`
	IntervalMinutes *int    `json:"intervalMinutes"`
}

// handleScheduleUpdate applies a partial update. Trigger changes are
// re-validated and the next run recomputed before saving.
func handleScheduleUpdate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			writeError(c, fault.New(fault.ValidationFailed, "schedule id %q is not numeric", c.Param("id")))
			return
		}
		var req scheduleUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fault.New(fault.ValidationFailed, "invalid request body: %v", err))
			return
		}

		var def models.ScheduleDefinition
		if err := db.First(&def, id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				writeError(c, fault.New(fault.NotFound, "schedule %d not found", id))
			} else {
				writeError(c, err)
			}
			return
		}

		retrigger := false
		if req.CronExpr != nil {
			def.CronExpr = *req.CronExpr
			retrigger = true
		}
		if req.IntervalMinutes != nil {
			def.IntervalMinutes = *req.IntervalMinutes
			retrigger = true
		}
		if req.Priority != nil {
			def.Priority = *req.Priority
		}
		if req.SkipIfRunning != nil {
			def.SkipIfRunning = *req.SkipIfRunning
		}
		if req.IsEnabled != nil {
			retrigger = retrigger || (*req.IsEnabled && !def.IsEnabled)
			def.IsEnabled = *req.IsEnabled
			if !def.IsEnabled {
				def.NextRunUtc = nil
			}
		}

		if retrigger {
			if err := schedule.Validate(&def); err != nil {
				writeError(c, err)
				return
			}
			if def.IsEnabled {
				next, err := schedule.NextRun(&def, time.Now().UTC())
				if err != nil {
					writeError(c, err)
					return
				}
				def.NextRunUtc = next
			}
		}
		if err := db.Save(&def).Error; err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, scheduleView(&def))
	}
}

func scheduleView(def *models.ScheduleDefinition) gin.H {
	return gin.H{
		"id":            def.ID,
		"name":          def.Name,
		"templateCode":  def.TemplateCode,
		"triggerType":   def.TriggerType,
		"isEnabled":     def.IsEnabled,
		"skipIfRunning": def.SkipIfRunning,
		"nextRunUtc":    def.NextRunUtc,
		"runCount":      def.RunCount,
		"skipCount":     def.SkipCount,
	}
}
