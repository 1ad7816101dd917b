// Package report collects per-account results into the run report and delivers its summary.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/notify"
)

const defaultSendTimeout = 30 * time.Second

// Aggregator owns the run report once every account has been processed.
type Aggregator struct {
	sink           notify.Sink
	logger         *zap.Logger
	sendTimeout    time.Duration
	skippedProxies []schemas.SkippedProxy
}

// NewAggregator creates an Aggregator delivering to sink. A non-positive sendTimeout
// selects the default.
func NewAggregator(sink notify.Sink, logger *zap.Logger, sendTimeout time.Duration) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Aggregator{sink: sink, logger: logger.Named("report"), sendTimeout: sendTimeout}
}

// SkipProxies records proxies excluded at load time; every later report lists them.
func (a *Aggregator) SkipProxies(entries []schemas.SkippedProxy) *Aggregator {
	a.skippedProxies = append([]schemas.SkippedProxy(nil), entries...)
	return a
}

// Report builds the run report, preserving the order of results, and hands its summary to
// the sink exactly once. Delivery survives a cancelled run context and its failure is only
// logged.
func (a *Aggregator) Report(ctx context.Context, startedAt time.Time, results []schemas.AccountResult, skipped []schemas.SkippedEntry) schemas.RunReport {
	rep := schemas.RunReport{
		ID:         uuid.NewString(),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Results:    append([]schemas.AccountResult{}, results...),
		Skipped:    append([]schemas.SkippedEntry(nil), skipped...),

		SkippedProxies: append([]schemas.SkippedProxy(nil), a.skippedProxies...),
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.sendTimeout)
	defer cancel()
	res := notify.SendLogged(sendCtx, a.sink, notify.Message{Text: Format(rep)}, a.logger)

	a.logger.Info("Run report emitted",
		zap.String("run_id", rep.ID),
		zap.Int("accounts", len(rep.Results)),
		zap.Int("succeeded", rep.Succeeded()),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("skipped_proxies", len(rep.SkippedProxies)),
		zap.Bool("delivered", res.Delivered),
	)
	return rep
}
