package attempt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/challenge"
	"github.com/xkilldash9x/hostkeep/internal/driver"
	"github.com/xkilldash9x/hostkeep/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	loginURL = "https://panel.test/login"
	areaURL  = "https://panel.test/clientarea.php"
)

var account = schemas.Account{Identifier: "a@x.com", Secret: "pw1"}

func testConfig() Config {
	return Config{
		LoginURL:           loginURL,
		AuthenticatedURL:   areaURL,
		IdentifierSelector: "#email",
		SecretSelector:     "#password",
		SubmitSelector:     "#login",
		ErrorSelector:      ".alert",
		GreetingSelector:   "#welcome",
		NavigationTimeout:  50 * time.Millisecond,
		SettleTimeout:      50 * time.Millisecond,
		ElementTimeout:     30 * time.Millisecond,
		ClickTimeout:       30 * time.Millisecond,
		OutcomeWindow:      60 * time.Millisecond,
		CloseTimeout:       time.Second,
	}
}

// loginPage is a login form whose submit button runs onSubmit.
func loginPage(onSubmit func(p *mocks.Page)) *mocks.Page {
	p := mocks.NewPage("about:blank")
	p.TitleText = "Client Login"
	p.Show("#email")
	if onSubmit != nil {
		p.OnClick["#login"] = onSubmit
	}
	return p
}

type fixture struct {
	launcher *mocks.Launcher
	sink     *mocks.RecordingSink
	logs     *observer.ObservedLogs
	attempt  *Attempt
}

func newFixture(t *testing.T, pages ...*mocks.Page) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	f := &fixture{
		launcher: &mocks.Launcher{NewPage: func(n int) *mocks.Page { return pages[n-1] }},
		sink:     &mocks.RecordingSink{},
		logs:     logs,
	}
	ccfg := challenge.DefaultConfig()
	ccfg.CheckboxSelector = "#cf-box"
	ccfg.ElementTimeout = 20 * time.Millisecond
	ccfg.SettleTimeout = 20 * time.Millisecond

	f.attempt = New(Deps{
		Launcher: f.launcher,
		Resolver: challenge.NewResolver(ccfg, f.sink, logger),
		Config:   testConfig(),
		Logger:   logger,
	})
	return f
}

func (f *fixture) run(t *testing.T) schemas.AttemptRecord {
	t.Helper()
	id := schemas.Identity{UserAgent: "ua", Locale: "en-US"}
	proxy := &schemas.ProxyEndpoint{Scheme: "http", Host: "p1", Port: 8080}
	return f.attempt.Run(context.Background(), account, 1, id, proxy)
}

func TestRun_SuccessByURL(t *testing.T) {
	page := loginPage(func(p *mocks.Page) { p.SetURL(areaURL) })
	f := newFixture(t, page)

	rec := f.run(t)

	assert.Equal(t, schemas.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, 1, rec.Index)
	assert.Equal(t, account, rec.Account)
	require.NotNil(t, rec.Proxy)
	assert.Equal(t, "p1", rec.Proxy.Host)
	assert.Nil(t, rec.Challenge)
	assert.Greater(t, rec.Duration, time.Duration(0))
	assert.Equal(t, 1, f.launcher.Sessions()[0].Closes())
	assert.Contains(t, page.Calls(), "navigate "+loginURL)
	assert.Contains(t, page.Calls(), "fill #email")
	assert.Contains(t, page.Calls(), "fill #password")
	assert.Contains(t, page.Calls(), "click #login")
}

func TestRun_SuccessByGreeting(t *testing.T) {
	page := loginPage(func(p *mocks.Page) { p.Show("#welcome") })
	f := newFixture(t, page)

	rec := f.run(t)
	assert.Equal(t, schemas.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, "greeting marker visible", rec.Detail)
}

func TestRun_CredentialRejected(t *testing.T) {
	page := loginPage(func(p *mocks.Page) {
		p.Show(".alert")
		p.Texts[".alert"] = "  Invalid email or password  "
	})
	f := newFixture(t, page)

	rec := f.run(t)
	assert.Equal(t, schemas.OutcomeCredentialRejected, rec.Outcome)
	assert.Equal(t, "Invalid email or password", rec.Detail)
}

func TestRun_ErrorMarkerOutranksGreeting(t *testing.T) {
	page := loginPage(func(p *mocks.Page) {
		p.Show("#welcome")
		p.Show(".alert")
		p.Texts[".alert"] = "Too many attempts"
	})
	f := newFixture(t, page)

	rec := f.run(t)
	assert.Equal(t, schemas.OutcomeCredentialRejected, rec.Outcome)
}

func TestRun_NoOutcomeIsUnknown(t *testing.T) {
	f := newFixture(t, loginPage(nil))

	start := time.Now()
	rec := f.run(t)

	assert.Equal(t, schemas.OutcomeUnknownError, rec.Outcome)
	assert.Contains(t, rec.Detail, "no login outcome detected")
	assert.Less(t, time.Since(start), time.Second, "the three detectors share one window")
	assert.Equal(t, 1, f.launcher.Sessions()[0].Closes())
}

func TestRun_ManualChallengeStopsBeforeForm(t *testing.T) {
	page := loginPage(nil)
	page.TitleText = "Just a moment..."
	page.ScreenshotPath = "shots/1.png"
	f := newFixture(t, page)

	rec := f.run(t)

	assert.Equal(t, schemas.OutcomeChallengeBlocked, rec.Outcome)
	require.NotNil(t, rec.Challenge)
	assert.Equal(t, schemas.ChallengeManualRequired, rec.Challenge.Kind)
	assert.Equal(t, "shots/1.png", rec.Challenge.Evidence)
	for _, c := range page.Calls() {
		assert.NotContains(t, c, "fill", "no form interaction after a manual challenge")
	}
	msgs := f.sink.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, account.Identifier)
	assert.Equal(t, 1, f.launcher.Sessions()[0].Closes())
}

func TestRun_AutoChallengeResolvedThenLogsIn(t *testing.T) {
	page := loginPage(func(p *mocks.Page) { p.SetURL(areaURL) })
	page.Show("#cf-box")
	page.OnClick["#cf-box"] = func(p *mocks.Page) { p.Hide("#cf-box") }
	f := newFixture(t, page)

	rec := f.run(t)

	assert.Equal(t, schemas.OutcomeSuccess, rec.Outcome)
	assert.Empty(t, f.sink.Messages())
	assert.Contains(t, page.Calls(), "click #cf-box")
}

func TestRun_UnreadableHeadingStillLogsIn(t *testing.T) {
	page := loginPage(func(p *mocks.Page) { p.SetURL(areaURL) })
	page.Counts["h1"] = 1
	page.Errs["text"] = &driver.Error{Op: "text", Target: "h1", Err: driver.ErrTimeout}
	f := newFixture(t, page)

	rec := f.run(t)

	assert.Equal(t, schemas.OutcomeSuccess, rec.Outcome, rec.Detail)
	assert.Nil(t, rec.Challenge)
	assert.Empty(t, f.sink.Messages())
	assert.Contains(t, page.Calls(), "text h1")
	assert.Contains(t, page.Calls(), "fill #email")
	assert.Contains(t, page.Calls(), "fill #password")
	assert.Contains(t, page.Calls(), "click #login")
}

func TestRun_AutoChallengeUnresolvedIsBlocked(t *testing.T) {
	page := loginPage(nil)
	page.Show("#cf-box")
	f := newFixture(t, page)

	rec := f.run(t)

	assert.Equal(t, schemas.OutcomeChallengeBlocked, rec.Outcome)
	require.NotNil(t, rec.Challenge)
	assert.Equal(t, schemas.ChallengeAutoResolvable, rec.Challenge.Kind)
}

func TestRun_LaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.launcher.LaunchErr = errors.New("chrome: executable not found")

	rec := f.run(t)

	assert.Equal(t, schemas.OutcomeUnknownError, rec.Outcome)
	assert.Contains(t, rec.Detail, "acquire session")
	assert.Empty(t, f.launcher.Sessions())
}

func TestRun_NavigationFailureIsTimeout(t *testing.T) {
	page := loginPage(nil)
	page.Errs["navigate"] = &driver.Error{Op: "navigate", Target: loginURL, Err: errors.New("net::ERR_PROXY_CONNECTION_FAILED")}
	f := newFixture(t, page)

	rec := f.run(t)
	assert.Equal(t, schemas.OutcomeTimeout, rec.Outcome)
	assert.Contains(t, rec.Detail, "navigating")
}

func TestRun_MissingFormTimesOut(t *testing.T) {
	page := loginPage(nil)
	page.Hide("#email")
	f := newFixture(t, page)

	rec := f.run(t)
	assert.Equal(t, schemas.OutcomeTimeout, rec.Outcome)
	assert.Contains(t, rec.Detail, "authenticating")
}

// Every exit path releases the session exactly once, including panics in any state.
func TestRun_ReleasesSessionOncePerState(t *testing.T) {
	tests := []struct {
		state   string
		op      string
		panics  bool
		outcome schemas.OutcomeKind
	}{
		{"navigating", "navigate", true, schemas.OutcomeUnknownError},
		{"navigating", "navigate", false, schemas.OutcomeTimeout},
		{"challenge_check", "title", true, schemas.OutcomeUnknownError},
		{"challenge_check", "title", false, schemas.OutcomeUnknownError},
		{"authenticating", "fill", true, schemas.OutcomeUnknownError},
		{"authenticating", "fill", false, schemas.OutcomeUnknownError},
		{"outcome_check", "url", true, schemas.OutcomeUnknownError},
		{"outcome_check", "url", false, schemas.OutcomeUnknownError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/panic=%v", tt.state, tt.panics), func(t *testing.T) {
			page := loginPage(nil)
			if tt.panics {
				page.Panics[tt.op] = "driver exploded"
			} else {
				page.Errs[tt.op] = &driver.Error{Op: tt.op, Err: errors.New("target crashed")}
			}
			f := newFixture(t, page)

			rec := f.run(t)

			sessions := f.launcher.Sessions()
			require.Len(t, sessions, 1)
			assert.Equal(t, 1, sessions[0].Closes())
			assert.Equal(t, tt.outcome, rec.Outcome)
			assert.Contains(t, rec.Detail, tt.state)
			if tt.panics {
				assert.Contains(t, rec.Detail, "panic")
			}
		})
	}
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, loginPage(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := f.attempt.Run(ctx, account, 2, schemas.Identity{}, nil)

	assert.NotEqual(t, schemas.OutcomeSuccess, rec.Outcome)
	assert.Nil(t, rec.Proxy)
	assert.Equal(t, 1, f.launcher.Sessions()[0].Closes())
}

func TestRun_SecretNeverLogged(t *testing.T) {
	page := loginPage(nil)
	page.Errs["fill"] = &driver.Error{Op: "fill", Target: "#password", Err: errors.New("element not interactable")}
	f := newFixture(t, page)

	rec := f.run(t)

	assert.NotContains(t, rec.Detail, account.Secret)
	require.NotZero(t, f.logs.Len())
	for _, entry := range f.logs.All() {
		assert.NotContains(t, entry.Message, account.Secret)
		assert.NotContains(t, fmt.Sprint(entry.ContextMap()), account.Secret)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "outcome_check", StateOutcomeCheck.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "state(42)", State(42).String())
}
