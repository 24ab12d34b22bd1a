// Package api exposes the orchestration surface over HTTP: mission
// submission and queries, operation feedback, robot state, utilization
// reports, schedule management, and an SSE robot-position stream.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/amrbridge/internal/gateway"
	"github.com/zulandar/amrbridge/internal/schedule"
	"github.com/zulandar/amrbridge/internal/tracker"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB        *gorm.DB
	Gateway   gateway.Client
	Tracker   *tracker.Tracker
	Scheduler *schedule.Runner
	Port      int
	Out       io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Gateway == nil {
		return fmt.Errorf("api: gateway is required")
	}
	if opts.Tracker == nil {
		return fmt.Errorf("api: tracker is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8081
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts.DB, opts.Gateway, opts.Tracker, opts.Scheduler)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the Gin engine with all routes registered. Split out
// from Start so tests can drive it with httptest.
func NewRouter(db *gorm.DB, gw gateway.Client, tr *tracker.Tracker, runner *schedule.Runner) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, db, gw, tr, runner)
	return router
}
