// Package challenge detects anti-bot interstitials and performs the limited automatic
// remediation the login flow is allowed to attempt.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/driver"
	"github.com/xkilldash9x/hostkeep/internal/notify"
)

// ErrNotAutoResolvable is returned by AttemptResolve for any state other than auto_resolvable.
var ErrNotAutoResolvable = errors.New("challenge: state is not auto-resolvable")

// Config holds detection patterns and the bounds of a resolution attempt.
type Config struct {
	// BlockPatterns match (case-insensitively) the title or heading of a full-page block.
	BlockPatterns    []string
	HeadingSelector  string
	CheckboxSelector string
	ElementTimeout   time.Duration
	ClickTimeout     time.Duration
	SettleTimeout    time.Duration
}

// DefaultConfig returns the patterns of the common interstitial pages.
func DefaultConfig() Config {
	return Config{
		BlockPatterns:    []string{"Just a moment", "Attention Required", "Checking your browser", "Verify you are human"},
		HeadingSelector:  "h1",
		CheckboxSelector: "iframe[src*='challenges.cloudflare.com'], input[type='checkbox'][name*='cf'], #challenge-stage input[type='checkbox']",
		ElementTimeout:   10 * time.Second,
		ClickTimeout:     5 * time.Second,
		SettleTimeout:    20 * time.Second,
	}
}

type subjectKey struct{}

// WithSubject labels challenge alerts raised under ctx, typically with an account identifier.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func subjectFrom(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown account"
}

// Resolver classifies pages and escalates manual-required challenges to the notifier.
// It never waits for a human.
type Resolver struct {
	cfg    Config
	sink   notify.Sink
	logger *zap.Logger
}

// NewResolver creates a Resolver. Zero config fields fall back to DefaultConfig.
func NewResolver(cfg Config, sink notify.Sink, logger *zap.Logger) *Resolver {
	def := DefaultConfig()
	if len(cfg.BlockPatterns) == 0 {
		cfg.BlockPatterns = def.BlockPatterns
	}
	if cfg.HeadingSelector == "" {
		cfg.HeadingSelector = def.HeadingSelector
	}
	if cfg.CheckboxSelector == "" {
		cfg.CheckboxSelector = def.CheckboxSelector
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = def.ElementTimeout
	}
	if cfg.ClickTimeout <= 0 {
		cfg.ClickTimeout = def.ClickTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, sink: sink, logger: logger.Named("challenge")}
}

// Classify inspects the current page. A full-page block wins over a checkbox. A
// manual_required result has already been escalated when Classify returns.
func (r *Resolver) Classify(ctx context.Context, page driver.Page) (schemas.ChallengeState, error) {
	state, err := r.inspect(ctx, page)
	if err != nil {
		return schemas.ChallengeState{}, err
	}
	if state.Kind == schemas.ChallengeManualRequired {
		state = r.escalate(ctx, page, state.Description)
	}
	return state, nil
}

// AttemptResolve activates the verification control once and reclassifies the page. Any
// driver error on the way turns into an escalated manual_required state, unless ctx has
// ended, in which case the state is returned unchanged with ctx's error.
func (r *Resolver) AttemptResolve(ctx context.Context, page driver.Page, state schemas.ChallengeState) (schemas.ChallengeState, error) {
	if state.Kind != schemas.ChallengeAutoResolvable {
		return state, ErrNotAutoResolvable
	}

	sel := r.cfg.CheckboxSelector
	if err := r.activate(ctx, page, sel); err != nil {
		if ctx.Err() != nil {
			r.logger.Debug("Challenge resolution interrupted", zap.Error(err))
			return state, ctx.Err()
		}
		r.logger.Warn("Automatic challenge resolution failed", zap.Error(err))
		return r.escalate(ctx, page, fmt.Sprintf("automatic resolution failed: %v", err)), nil
	}

	// The click usually triggers a navigation; a settle timeout just means we look anyway.
	if err := page.WaitForLoad(ctx, r.cfg.SettleTimeout); err != nil && !driver.IsTimeout(err) {
		return r.escalate(ctx, page, fmt.Sprintf("page did not settle after resolution: %v", err)), nil
	}

	next, err := r.inspect(ctx, page)
	if err != nil {
		return r.escalate(ctx, page, fmt.Sprintf("reclassification failed: %v", err)), nil
	}
	switch next.Kind {
	case schemas.ChallengeNone:
		r.logger.Info("Challenge resolved automatically")
	case schemas.ChallengeManualRequired:
		next = r.escalate(ctx, page, next.Description)
	case schemas.ChallengeAutoResolvable:
		r.logger.Info("Challenge still present after one resolution attempt")
		next.Description = "verification control still present after activation"
	}
	return next, nil
}

func (r *Resolver) activate(ctx context.Context, page driver.Page, sel string) error {
	if err := page.ScrollIntoView(ctx, sel); err != nil {
		return err
	}
	if err := page.WaitForSelector(ctx, sel, r.cfg.ElementTimeout); err != nil {
		return err
	}
	return page.Click(ctx, sel, r.cfg.ClickTimeout)
}

// inspect classifies without side effects.
func (r *Resolver) inspect(ctx context.Context, page driver.Page) (schemas.ChallengeState, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return schemas.ChallengeState{}, err
	}
	if p, ok := r.matchBlock(title); ok {
		return schemas.ChallengeState{Kind: schemas.ChallengeManualRequired, Description: fmt.Sprintf("blocking interstitial (title matches %q)", p)}, nil
	}

	n, err := page.Count(ctx, r.cfg.HeadingSelector)
	if err != nil {
		return schemas.ChallengeState{}, err
	}
	if n > 0 {
		// An unreadable heading, e.g. one that never becomes visible, cannot match a block.
		heading, err := page.Text(ctx, r.cfg.HeadingSelector)
		if err != nil {
			r.logger.Debug("Could not read page heading", zap.String("selector", r.cfg.HeadingSelector), zap.Error(err))
		} else if p, ok := r.matchBlock(heading); ok {
			return schemas.ChallengeState{Kind: schemas.ChallengeManualRequired, Description: fmt.Sprintf("blocking interstitial (heading matches %q)", p)}, nil
		}
	}

	n, err = page.Count(ctx, r.cfg.CheckboxSelector)
	if err != nil {
		return schemas.ChallengeState{}, err
	}
	if n > 0 {
		return schemas.ChallengeState{Kind: schemas.ChallengeAutoResolvable, Description: "verification checkbox present"}, nil
	}
	return schemas.ChallengeState{Kind: schemas.ChallengeNone}, nil
}

func (r *Resolver) matchBlock(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, p := range r.cfg.BlockPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

// escalate captures evidence and alerts a human. Delivery failures are logged only.
func (r *Resolver) escalate(ctx context.Context, page driver.Page, description string) schemas.ChallengeState {
	state := schemas.ChallengeState{Kind: schemas.ChallengeManualRequired, Description: description}

	path, err := page.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("Could not capture challenge evidence", zap.Error(err))
	} else {
		state.Evidence = path
	}

	subject := subjectFrom(ctx)
	r.logger.Warn("Manual challenge requires attention",
		zap.String("subject", subject),
		zap.String("description", description),
		zap.String("evidence", state.Evidence),
	)
	if r.sink != nil {
		notify.SendLogged(ctx, r.sink, notify.Message{
			Text:       fmt.Sprintf("⚠️ Manual verification required for %s: %s", subject, description),
			Attachment: state.Evidence,
		}, r.logger)
	}
	return state
}
