package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/amrbridge/internal/models"
	"github.com/zulandar/amrbridge/internal/tracker"
	"gorm.io/gorm"
)

// positionEvent holds data for a robot-position SSE event.
type positionEvent struct {
	RobotID     string `json:"robot_id"`
	MissionCode string `json:"mission_code"`
	Node        string `json:"node"`
	Waiting     bool   `json:"waiting"`
}

// handleEvents streams robot positions over SSE. Each connection keeps a
// per-robot last-known-position cache so an event fires only when a robot
// actually moves.
func handleEvents(db *gorm.DB, tr *tracker.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		// Send connected event.
		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		lastKnown := make(map[string]string)

		ctx := c.Request.Context()
		ticker := time.NewTicker(2 * time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				sent := false
				for _, evt := range positionUpdates(db, tr, lastKnown) {
					writeSSE(c.Writer, "robot-position", evt)
					sent = true
				}
				if sent {
					c.Writer.Flush()
				}
			}
		}
	}
}

// positionUpdates resolves positions for all executing missions and
// returns events for robots whose node changed since the last poll.
func positionUpdates(db *gorm.DB, tr *tracker.Tracker, lastKnown map[string]string) []positionEvent {
	var active []models.MissionQueueItem
	err := db.Where("status = ? AND assigned_robot_id IS NOT NULL", models.MissionExecuting).
		Order("created_utc ASC").Find(&active).Error
	if err != nil {
		return nil
	}

	var events []positionEvent
	for _, item := range active {
		node, waiting, err := tr.Position(item.MissionCode)
		if err != nil || node == "" {
			continue
		}
		robotID := *item.AssignedRobotID
		if lastKnown[robotID] == node {
			continue
		}
		lastKnown[robotID] = node
		events = append(events, positionEvent{
			RobotID:     robotID,
			MissionCode: item.MissionCode,
			Node:        node,
			Waiting:     waiting,
		})
	}
	return events
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
