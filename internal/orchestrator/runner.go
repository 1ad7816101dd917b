package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/config"
)

// AccountRunner is the per-account retry loop.
type AccountRunner interface {
	Run(ctx context.Context, account schemas.Account, maxAttempts int) schemas.AccountResult
}

// Reporter turns the per-account results into the run report and delivers it.
type Reporter interface {
	Report(ctx context.Context, startedAt time.Time, results []schemas.AccountResult, skipped []schemas.SkippedEntry) schemas.RunReport
}

// Runner processes the configured accounts one after another and always emits exactly one
// report, even when nothing could be processed.
type Runner struct {
	accounts    AccountRunner
	reporter    Reporter
	maxAttempts int
	logger      *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(accounts AccountRunner, reporter Reporter, maxAttempts int, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		accounts:    accounts,
		reporter:    reporter,
		maxAttempts: maxAttempts,
		logger:      logger.Named("runner"),
	}
}

// Run processes entries in order. Malformed entries are skipped and reported; results keep
// the input order of the valid ones.
func (r *Runner) Run(ctx context.Context, entries []config.AccountEntry) schemas.RunReport {
	startedAt := time.Now()

	var (
		valid   []schemas.Account
		skipped []schemas.SkippedEntry
	)
	for _, e := range entries {
		if e.Err != nil {
			r.logger.Warn("Skipping malformed account entry", zap.Int("position", e.Position), zap.Error(e.Err))
			skipped = append(skipped, schemas.SkippedEntry{Position: e.Position, Reason: e.Err.Error()})
			continue
		}
		valid = append(valid, e.Account)
	}

	if len(valid) == 0 {
		r.logger.Warn("No accounts to process")
		return r.reporter.Report(ctx, startedAt, nil, skipped)
	}

	r.logger.Info("Starting run", zap.Int("accounts", len(valid)), zap.Int("max_attempts", r.maxAttempts))
	results := make([]schemas.AccountResult, 0, len(valid))
	for i, account := range valid {
		r.logger.Info("Processing account", zap.Int("position", i+1), zap.Int("of", len(valid)), zap.Object("account", account))
		results = append(results, r.accounts.Run(ctx, account, r.maxAttempts))
	}
	return r.reporter.Report(ctx, startedAt, results, skipped)
}
