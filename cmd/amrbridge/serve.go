package main

import (
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/amrbridge/internal/api"
	"github.com/zulandar/amrbridge/internal/chaining"
	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/db"
	"github.com/zulandar/amrbridge/internal/dispatcher"
	"github.com/zulandar/amrbridge/internal/gateway"
	"github.com/zulandar/amrbridge/internal/notify"
	"github.com/zulandar/amrbridge/internal/schedule"
	"github.com/zulandar/amrbridge/internal/tracker"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the full AMRBridge process",
		Long:  "Starts the dispatcher loop, the schedule runner, and the REST API in one process. Stops gracefully on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "amrbridge.yaml", "path to AMRBridge config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for org %q from %s\n", cfg.OrgID, configPath)

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Database, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	tr := tracker.New(gormDB, cfg.Tracker)
	ev := chaining.New(gormDB, cfg.Chaining)
	notifier := notify.FromConfig(cfg.Notify)

	var gw gateway.Client
	if cfg.Gateway.Simulated {
		gw = gateway.NewSimulator(gormDB, tr)
		fmt.Fprintln(out, "Gateway: simulator")
	} else {
		gw = gateway.NewHTTPClient(cfg.Gateway, cfg.OrgID)
		fmt.Fprintf(out, "Gateway: %s\n", cfg.Gateway.BaseURL)
	}

	disp := dispatcher.New(gormDB, cfg.Dispatcher, cfg.OrgID, gw, tr, ev, notifier)
	runner := schedule.NewRunner(gormDB, cfg.Scheduler).WithNotifier(notifier)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := disp.Run(ctx, out); err != nil {
			log.Printf("serve: dispatcher: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx, out); err != nil {
			log.Printf("serve: scheduler: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := api.Start(ctx, api.StartOpts{
			DB:        gormDB,
			Gateway:   gw,
			Tracker:   tr,
			Scheduler: runner,
			Port:      cfg.API.Port,
			Out:       out,
		}); err != nil {
			log.Printf("serve: api: %v", err)
		}
	}()

	<-ctx.Done()
	fmt.Fprintln(out, "Shutting down...")
	wg.Wait()
	fmt.Fprintln(out, "Stopped.")
	return nil
}
