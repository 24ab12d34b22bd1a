package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/amrbridge/internal/config"
	"github.com/zulandar/amrbridge/internal/db"
	"github.com/zulandar/amrbridge/internal/schedule"
)

func newSchedulerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run only the schedule runner",
		Long:  "Polls schedule definitions and fires due ones. Safe to run alongside other instances: schedules are lease-locked in the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "amrbridge.yaml", "path to AMRBridge config file")
	return cmd
}

func runScheduler(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Database, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := schedule.NewRunner(gormDB, cfg.Scheduler)
	return runner.Run(ctx, out)
}
