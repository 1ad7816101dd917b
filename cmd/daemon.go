package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cronLogger adapts zap to the logger the cron scheduler expects.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

func newDaemonCmd() *cobra.Command {
	var schedule string
	var runOnStart bool

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the keep-alive on a cron schedule until interrupted",
		Long: `Daemon performs a full run every time the cron schedule fires. Runs never overlap: a
tick that arrives while the previous run is still going is skipped. The schedule uses the
standard five-field syntax and the @every/@daily descriptors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("schedule") {
				app.Config.Daemon.Schedule = schedule
			}
			if cmd.Flags().Changed("run-on-start") {
				app.Config.Daemon.RunOnStart = runOnStart
			}
			return runDaemon(cmd.Context(), app)
		},
	}

	daemonCmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (overrides daemon.schedule)")
	daemonCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "perform one run immediately (overrides daemon.run_on_start)")
	return daemonCmd
}

// runDaemon blocks until ctx is cancelled, then waits for an in-flight run to finish.
func runDaemon(ctx context.Context, app *App) error {
	logger := app.Logger.Named("daemon")
	clog := cronLogger{sugar: logger.Sugar()}

	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := runOnce(ctx, app); err != nil {
			logger.Error("Scheduled run failed", zap.Error(err))
		}
	})

	id, err := c.AddJob(app.Config.Daemon.Schedule, job)
	if err != nil {
		return fmt.Errorf("invalid daemon schedule %q: %w", app.Config.Daemon.Schedule, err)
	}

	c.Start()
	logger.Info("Daemon started",
		zap.String("schedule", app.Config.Daemon.Schedule),
		zap.Time("next_run", c.Entry(id).Next),
	)

	// The scheduler only waits for the jobs it started itself.
	var startup sync.WaitGroup
	if app.Config.Daemon.RunOnStart {
		startup.Add(1)
		go func() {
			defer startup.Done()
			// The wrapped job shares the overlap guard with the scheduled ticks.
			c.Entry(id).WrappedJob.Run()
		}()
	}

	<-ctx.Done()
	logger.Info("Daemon stopping; waiting for the current run to finish.")
	<-c.Stop().Done()
	startup.Wait()
	logger.Info("Daemon stopped.")
	return nil
}
