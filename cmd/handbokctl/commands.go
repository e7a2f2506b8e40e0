package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/handbok-org/handbok/internal/app"
	"github.com/handbok-org/handbok/internal/app/service/gdpr"
	"github.com/handbok-org/handbok/internal/app/service/maintenance"
	"github.com/handbok-org/handbok/internal/platform/db"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/logger"
)

var errRunFailed = errors.New("run reported failures")

// runWithApp starts the service graph without the HTTP listener, runs fn and
// stops the graph so background work (emails, webhook logs) is flushed.
func runWithApp(ctx context.Context, fn func(ctx context.Context) error, targets ...any) error {
	a := fx.New(app.Core, fx.NopLogger, fx.Populate(targets...))
	if err := a.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	runErr := fn(ctx)

	stopCtx, cancel2 := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancel2()
	if err := a.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("stop: %w", err)
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "maintenance", Short: "Subscription maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run every maintenance step once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var runner *maintenance.Runner
			return runWithApp(cmd.Context(), func(ctx context.Context) error {
				report := runner.Run(ctx, maintenance.TriggerCLI)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Success {
					return fmt.Errorf("%w: %d issue(s)", errRunFailed, len(report.IssuesFound))
				}
				return nil
			}, &runner)
		},
	})
	return cmd
}

func newGDPRCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "gdpr", Short: "GDPR operations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Send deletion warnings and execute deletions past their grace period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var svc *gdpr.Service
			return runWithApp(cmd.Context(), func(ctx context.Context) error {
				res, err := svc.ProcessScheduledDeletions(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Failed > 0 {
					return fmt.Errorf("%w: %d deletion(s) failed", errRunFailed, res.Failed)
				}
				return nil
			}, &svc)
		},
	})
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			gdb, err := db.NewDB(log, cfg)
			if err != nil {
				return err
			}
			defer closeDB(log, gdb)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return db.AutoMigrate(ctx, log, gdb)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "migration timeout")
	return cmd
}

func closeDB(log *zap.SugaredLogger, gdb *gorm.DB) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warnw("closing postgres connection pool failed", "err", err)
	}
}
