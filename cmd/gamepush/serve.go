package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/obentoo/gamepush/internal/common/logger"
	"github.com/obentoo/gamepush/internal/common/output"
	"github.com/obentoo/gamepush/internal/monitor"
	"github.com/obentoo/gamepush/internal/scheduler"
	"github.com/spf13/cobra"
)

var (
	// serveCheckNow runs one check of every enabled product at startup
	serveCheckNow bool
	// serveDryRun logs notices instead of sending them
	serveDryRun bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled monitor",
	Long: `Run every enabled product on its cron schedule until interrupted.

The push config is watched; edits to schedules, targets or formats take
effect without a restart.

Examples:
  gamepush serve                 Run with the configured bots
  gamepush serve --check-now     Check every product once at startup
  gamepush serve --dry-run -v    Log notices instead of sending them`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveCheckNow, "check-now", false, "Check every enabled product once at startup")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Log notices instead of sending them")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := openApp(ctx, appOptions{dryRun: serveDryRun})
	defer a.close()

	sched := scheduler.New(a.engine, a.push)
	sched.Start(ctx)

	go func() {
		if err := a.push.Watch(ctx, sched.Reload); err != nil {
			logger.Warn("push config hot reload disabled: %v", err)
		}
	}()

	output.PrintInfo("gamepush running, push config %s", a.push.Path())
	for _, j := range sched.Jobs() {
		logger.Info("  %s  %s", output.FormatProduct(monitor.MustProduct(j.Product).Name, string(j.Product)), j.Spec)
	}

	if serveCheckNow {
		for _, j := range sched.Jobs() {
			go func(id monitor.ProductID) {
				if _, err := a.engine.CheckVersion(ctx, id, true); err != nil && ctx.Err() == nil {
					logger.With(monitor.MustProduct(id).Name).Error("startup check failed: %v", err)
				}
			}(j.Product)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down, waiting for running checks")
	<-sched.Stop().Done()
}
