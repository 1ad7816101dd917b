// Package attempt runs one login attempt as an explicit state machine over a browsing
// session that it acquires and releases itself.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/challenge"
	"github.com/xkilldash9x/hostkeep/internal/driver"
)

// State is a phase of a login attempt.
type State int

const (
	StateNavigating State = iota
	StateChallengeCheck
	StateAuthenticating
	StateOutcomeCheck
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNavigating:
		return "navigating"
	case StateChallengeCheck:
		return "challenge_check"
	case StateAuthenticating:
		return "authenticating"
	case StateOutcomeCheck:
		return "outcome_check"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resolver is the challenge capability an attempt needs.
type Resolver interface {
	Classify(ctx context.Context, page driver.Page) (schemas.ChallengeState, error)
	AttemptResolve(ctx context.Context, page driver.Page, state schemas.ChallengeState) (schemas.ChallengeState, error)
}

// Config names the login page, its controls and the bound of every wait.
type Config struct {
	LoginURL         string
	AuthenticatedURL string

	IdentifierSelector string
	SecretSelector     string
	SubmitSelector     string
	ErrorSelector      string
	GreetingSelector   string

	NavigationTimeout time.Duration
	SettleTimeout     time.Duration
	ElementTimeout    time.Duration
	ClickTimeout      time.Duration
	OutcomeWindow     time.Duration
	CloseTimeout      time.Duration
}

// Deps are the collaborators of an attempt.
type Deps struct {
	Launcher driver.Launcher
	Resolver Resolver
	Config   Config
	Logger   *zap.Logger
}

// Attempt executes login attempts. It holds no per-attempt state and may be reused.
type Attempt struct {
	launcher driver.Launcher
	resolver Resolver
	cfg      Config
	logger   *zap.Logger
}

// New creates an Attempt.
func New(deps Deps) *Attempt {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Config.CloseTimeout <= 0 {
		deps.Config.CloseTimeout = 10 * time.Second
	}
	return &Attempt{
		launcher: deps.Launcher,
		resolver: deps.Resolver,
		cfg:      deps.Config,
		logger:   logger.Named("attempt"),
	}
}

// run carries the mutable state of one execution.
type run struct {
	page   driver.Page
	rec    *schemas.AttemptRecord
	logger *zap.Logger
}

func (r *run) finish(outcome schemas.OutcomeKind, detail string) State {
	r.rec.Outcome = outcome
	r.rec.Detail = detail
	return StateDone
}

// failure classifies a driver error raised in a state.
func (r *run) failure(state State, err error) State {
	if driver.IsTimeout(err) {
		return r.finish(schemas.OutcomeTimeout, fmt.Sprintf("%s: %v", state, err))
	}
	return r.finish(schemas.OutcomeUnknownError, fmt.Sprintf("%s: %v", state, err))
}

// Run performs one attempt. It always returns a finalized record: every error, and any
// panic raised by the driver, becomes an outcome. The session is released exactly once on
// every path that acquired it.
func (a *Attempt) Run(ctx context.Context, account schemas.Account, index int, identity schemas.Identity, proxy *schemas.ProxyEndpoint) (rec schemas.AttemptRecord) {
	rec = schemas.AttemptRecord{
		Account:   account,
		Index:     index,
		Identity:  identity,
		Proxy:     proxy,
		StartedAt: time.Now(),
	}
	logger := a.logger.With(zap.Object("account", account), zap.Int("attempt", index))
	if proxy != nil {
		logger = logger.With(zap.Stringer("proxy", proxy))
	}

	state := StateNavigating
	defer func() {
		if p := recover(); p != nil {
			rec.Outcome = schemas.OutcomeUnknownError
			rec.Detail = fmt.Sprintf("panic in %s: %v", state, p)
			logger.Error("Recovered from panic during login attempt", zap.Stringer("state", state), zap.Any("panic", p))
		}
		rec.Duration = time.Since(rec.StartedAt)
		logger.Info("Login attempt finished",
			zap.String("outcome", string(rec.Outcome)),
			zap.String("detail", rec.Detail),
			zap.Duration("duration", rec.Duration),
		)
	}()

	ctx = challenge.WithSubject(ctx, account.Identifier)

	session, err := a.launcher.Launch(ctx, identity, proxy)
	if err != nil {
		rec.Outcome = schemas.OutcomeUnknownError
		rec.Detail = fmt.Sprintf("acquire session: %v", err)
		return rec
	}
	defer a.release(session, logger)

	r := &run{page: session, rec: &rec, logger: logger}
	for state != StateDone {
		logger.Debug("Entering state", zap.Stringer("state", state))
		switch state {
		case StateNavigating:
			state = a.navigate(ctx, r)
		case StateChallengeCheck:
			state = a.checkChallenge(ctx, r)
		case StateAuthenticating:
			state = a.authenticate(ctx, r)
		case StateOutcomeCheck:
			state = a.checkOutcome(ctx, r)
		default:
			state = r.finish(schemas.OutcomeUnknownError, fmt.Sprintf("unexpected state %s", state))
		}
	}
	return rec
}

// release closes the session on a fresh context so that a cancelled run still tears it down.
func (a *Attempt) release(session driver.Session, logger *zap.Logger) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Recovered from panic while releasing session", zap.Any("panic", p))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CloseTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		logger.Warn("Failed to release browsing session", zap.Error(err))
	}
}

func (a *Attempt) navigate(ctx context.Context, r *run) State {
	if err := r.page.Navigate(ctx, a.cfg.LoginURL, a.cfg.NavigationTimeout); err != nil {
		return r.finish(schemas.OutcomeTimeout, fmt.Sprintf("%s: %v", StateNavigating, err))
	}
	if a.cfg.SettleTimeout > 0 {
		if err := r.page.WaitForLoad(ctx, a.cfg.SettleTimeout); err != nil {
			r.logger.Debug("Page did not settle, continuing", zap.Error(err))
		}
	}
	return StateChallengeCheck
}

func (a *Attempt) checkChallenge(ctx context.Context, r *run) State {
	st, err := a.resolver.Classify(ctx, r.page)
	if err != nil {
		return r.failure(StateChallengeCheck, err)
	}
	if st.Kind == schemas.ChallengeAutoResolvable {
		r.logger.Info("Attempting automatic challenge resolution")
		st, err = a.resolver.AttemptResolve(ctx, r.page, st)
		if err != nil {
			return r.failure(StateChallengeCheck, err)
		}
	}
	if st.Kind != schemas.ChallengeNone {
		r.rec.Challenge = &st
	}
	if st.Blocking() {
		return r.finish(schemas.OutcomeChallengeBlocked, st.Description)
	}
	return StateAuthenticating
}

// authenticate submits the form once. Errors carry selectors, never the secret.
func (a *Attempt) authenticate(ctx context.Context, r *run) State {
	if err := r.page.WaitForSelector(ctx, a.cfg.IdentifierSelector, a.cfg.ElementTimeout); err != nil {
		return r.failure(StateAuthenticating, err)
	}
	if err := r.page.Fill(ctx, a.cfg.IdentifierSelector, r.rec.Account.Identifier); err != nil {
		return r.failure(StateAuthenticating, err)
	}
	if err := r.page.Fill(ctx, a.cfg.SecretSelector, r.rec.Account.Secret); err != nil {
		return r.failure(StateAuthenticating, err)
	}
	if err := r.page.Click(ctx, a.cfg.SubmitSelector, a.cfg.ClickTimeout); err != nil {
		return r.failure(StateAuthenticating, err)
	}
	return StateOutcomeCheck
}

func (a *Attempt) checkOutcome(ctx context.Context, r *run) State {
	d, err := a.detect(ctx, r.page)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return r.finish(schemas.OutcomeUnknownError, fmt.Sprintf("%s: cancelled", StateOutcomeCheck))
		}
		return r.finish(schemas.OutcomeUnknownError, fmt.Sprintf("%s: %v", StateOutcomeCheck, err))
	}
	return r.finish(d.outcome, d.detail)
}
