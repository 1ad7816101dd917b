// File: internal/orchestrator/orchestrator.go
// Description: Wraps single login attempts in a bounded retry loop that rotates identity
// and egress between tries, and runs that loop over every configured account.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

// IdentitySource draws a fresh browser identity.
type IdentitySource interface {
	Next() schemas.Identity
}

// ProxySelector picks the egress path of an attempt. A nil endpoint means direct.
type ProxySelector interface {
	Select() *schemas.ProxyEndpoint
	Rotate(exclude *schemas.ProxyEndpoint) *schemas.ProxyEndpoint
}

// AttemptRunner executes one login attempt and always returns a finalized record.
type AttemptRunner interface {
	Run(ctx context.Context, account schemas.Account, index int, identity schemas.Identity, proxy *schemas.ProxyEndpoint) schemas.AttemptRecord
}

// Backoff is the delay policy between attempts: Base times the index of the attempt that
// just failed, capped at Max when Max is positive. It never decreases.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the pause after the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Base <= 0 {
		return 0
	}
	d := b.Base * time.Duration(attempt)
	if b.Max > 0 && (d > b.Max || d < 0) {
		return b.Max
	}
	return d
}

// Controller runs the retry loop of a single account.
type Controller struct {
	identities IdentitySource
	proxies    ProxySelector
	attempts   AttemptRunner
	backoff    Backoff
	logger     *zap.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a Controller. A nil proxy selector means every attempt connects
// directly.
func NewController(identities IdentitySource, proxies ProxySelector, attempts AttemptRunner, backoff Backoff, logger *zap.Logger) (*Controller, error) {
	if identities == nil || attempts == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize retry controller with nil dependencies")
	}
	return &Controller{
		identities: identities,
		proxies:    proxies,
		attempts:   attempts,
		backoff:    backoff,
		logger:     logger.Named("retry"),
		sleep:      sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run exercises one account for at most maxAttempts attempts. It stops at the first
// success, and early when ctx is cancelled. It never panics and never returns an error:
// everything that goes wrong is in the returned history.
func (c *Controller) Run(ctx context.Context, account schemas.Account, maxAttempts int) schemas.AccountResult {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := c.logger.With(zap.Object("account", account))
	history := make([]schemas.AttemptRecord, 0, maxAttempts)

	var previous *schemas.ProxyEndpoint
	for index := 1; index <= maxAttempts; index++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("Retry loop cancelled", zap.Int("attempts_taken", len(history)), zap.Error(err))
			break
		}

		identity := c.identities.Next()
		proxy := c.pickProxy(index, previous)
		rec := c.runAttempt(ctx, logger, account, index, identity, proxy)
		history = append(history, rec)
		previous = proxy

		if rec.Outcome == schemas.OutcomeSuccess {
			break
		}
		if index == maxAttempts {
			break
		}

		delay := c.backoff.Delay(index)
		logger.Info("Attempt failed, backing off",
			zap.Int("attempt", index),
			zap.String("outcome", string(rec.Outcome)),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			logger.Warn("Backoff interrupted", zap.Error(err))
			break
		}
	}

	result := schemas.NewAccountResult(account, maxAttempts, history)
	logger.Info("Account finished",
		zap.String("outcome", string(result.FinalOutcome)),
		zap.Int("attempts_taken", result.AttemptsTaken),
		zap.Int("max_attempts", maxAttempts),
	)
	return result
}

func (c *Controller) pickProxy(index int, previous *schemas.ProxyEndpoint) *schemas.ProxyEndpoint {
	if c.proxies == nil {
		return nil
	}
	if index == 1 {
		return c.proxies.Select()
	}
	return c.proxies.Rotate(previous)
}

// runAttempt isolates the loop from an attempt runner that panics instead of returning.
func (c *Controller) runAttempt(ctx context.Context, logger *zap.Logger, account schemas.Account, index int, identity schemas.Identity, proxy *schemas.ProxyEndpoint) (rec schemas.AttemptRecord) {
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Recovered from panic in attempt runner", zap.Int("attempt", index), zap.Any("panic", p))
			rec = schemas.AttemptRecord{
				Account:   account,
				Index:     index,
				Identity:  identity,
				Proxy:     proxy,
				Outcome:   schemas.OutcomeUnknownError,
				Detail:    fmt.Sprintf("attempt aborted: %v", p),
				StartedAt: started,
				Duration:  time.Since(started),
			}
		}
	}()
	rec = c.attempts.Run(ctx, account, index, identity, proxy)
	// The controller owns the numbering.
	rec.Index = index
	return rec
}
