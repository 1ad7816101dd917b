package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/report"
)

// ErrAccountsFailed is returned by run --strict when at least one account did not log in.
var ErrAccountsFailed = errors.New("one or more accounts failed to log in")

// runOptions are the per-invocation overrides of the run section.
type runOptions struct {
	accounts    string
	maxAttempts int
	output      string
	format      string
	strict      bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Log in to every configured account once",
		Long: `Run processes the configured accounts in order. Each account is retried with a fresh
browser identity and, when proxies are configured, a rotated egress proxy until it logs in
or its attempt budget is spent. One summary is sent to the configured notification sinks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("accounts") {
				app.Config.Run.Accounts = opts.accounts
			}
			if cmd.Flags().Changed("max-attempts") {
				if opts.maxAttempts < 1 {
					return fmt.Errorf("--max-attempts must be at least 1")
				}
				app.Config.Retry.MaxAttempts = opts.maxAttempts
			}

			rep, err := runOnce(cmd.Context(), app)
			if err != nil {
				return err
			}
			if opts.output != "" {
				if err := report.WriteFile(opts.output, opts.format, rep); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
			}
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if opts.strict && rep.Succeeded() < len(rep.Results) {
				return fmt.Errorf("%w: %d of %d", ErrAccountsFailed, len(rep.Results)-rep.Succeeded(), len(rep.Results))
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&opts.accounts, "accounts", "", "whitespace separated identifier:secret tokens (overrides config and environment)")
	runCmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", 0, "attempts per account (overrides retry.max_attempts)")
	runCmd.Flags().StringVarP(&opts.output, "output", "o", "", "also write the report to this file (\"-\" for stdout)")
	runCmd.Flags().StringVarP(&opts.format, "format", "f", "text", "report format: text or json")
	runCmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero when any account fails")
	return runCmd
}

// runOnce builds fresh components, processes the accounts and tears the components down.
func runOnce(ctx context.Context, app *App) (schemas.RunReport, error) {
	components, err := app.Factory.Create(ctx, app.Config, app.Logger)
	if err != nil {
		return schemas.RunReport{}, fmt.Errorf("failed to initialize run components: %w", err)
	}
	defer components.Shutdown()

	rep := components.Run(ctx)
	app.Logger.Info("Run finished",
		zap.String("run_id", rep.ID),
		zap.Int("accounts", len(rep.Results)),
		zap.Int("succeeded", rep.Succeeded()),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Duration("duration", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}
