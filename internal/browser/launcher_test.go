package browser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/config"
	"github.com/xkilldash9x/hostkeep/internal/driver"
)

const loginPage = `<!doctype html>
<html><head><title>Client Area Login</title></head>
<body>
<h1>Sign in</h1>
<form action="/dashboard" method="get">
  <input id="user" name="user">
  <input id="pass" name="pass" type="password">
  <button id="go" type="submit">Log in</button>
</form>
<p class="hint">one</p><p class="hint">two</p>
</body></html>`

const dashboardPage = `<!doctype html>
<html><head><title>Dashboard</title></head>
<body><div class="welcome">Welcome back</div></body></html>`

// findChrome returns a Chrome executable or skips the test.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser integration test skipped in short mode")
	}
	if path := os.Getenv("HOSTKEEP_TEST_CHROME"); path != "" {
		return path
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome executable found")
	return ""
}

func newTestLauncher(t *testing.T) *Launcher {
	t.Helper()
	return NewLauncher(LauncherConfig{
		Browser:       config.BrowserConfig{Headless: true, HumanTyping: true, ExecPath: findChrome(t)},
		LaunchTimeout: 45 * time.Second,
		OpTimeout:     5 * time.Second,
		ScreenshotDir: t.TempDir(),
	}, zaptest.NewLogger(t))
}

func TestLauncher_LoginFlow(t *testing.T) {
	launcher := newTestLauncher(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dashboardPage)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	identity := schemas.Identity{
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:          "Win32",
		Viewport:          schemas.Viewport{Width: 1280, Height: 800},
		Locale:            "en-US",
		Languages:         []string{"en-US", "en"},
		Timezone:          "America/Chicago",
		DeviceScaleFactor: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sess, err := launcher.Launch(ctx, identity, nil)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sess.Close(context.Background()))
		require.NoError(t, sess.Close(context.Background()), "second close is a no-op")
	}()

	require.NoError(t, sess.Navigate(ctx, server.URL+"/login", 20*time.Second))
	require.NoError(t, sess.WaitForLoad(ctx, 5*time.Second))

	title, err := sess.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Client Area Login", title)

	count, err := sess.Count(ctx, ".hint")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = sess.Count(ctx, "#does-not-exist")
	require.NoError(t, err)
	assert.Zero(t, count)

	heading, err := sess.Text(ctx, "//h1")
	require.NoError(t, err)
	assert.Equal(t, "Sign in", heading)

	var platform, userAgent string
	require.NoError(t, chromedp.Run(sess.(*Session).ctx,
		chromedp.Evaluate(`navigator.platform`, &platform),
		chromedp.Evaluate(`navigator.userAgent`, &userAgent),
	))
	assert.Equal(t, identity.Platform, platform)
	assert.Equal(t, identity.UserAgent, userAgent)

	require.NoError(t, sess.Fill(ctx, "#user", "alice@example.com"))
	require.NoError(t, sess.Fill(ctx, "#pass", "hunter2"))
	var typed string
	require.NoError(t, chromedp.Run(sess.(*Session).ctx, chromedp.Value("#user", &typed, chromedp.ByQuery)))
	assert.Equal(t, "alice@example.com", typed)
	require.NoError(t, sess.ScrollIntoView(ctx, "#go"))
	require.NoError(t, sess.Click(ctx, "#go", 5*time.Second))
	require.NoError(t, sess.WaitForURL(ctx, server.URL+"/dashboard*", 10*time.Second))
	require.NoError(t, sess.WaitForSelector(ctx, ".welcome", 5*time.Second))

	path, err := sess.Screenshot(ctx)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	err = sess.WaitForSelector(ctx, "#never", 300*time.Millisecond)
	require.Error(t, err)
	assert.True(t, driver.IsTimeout(err))
}

func TestLauncher_CancelledContext(t *testing.T) {
	launcher := newTestLauncher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := launcher.Launch(ctx, schemas.Identity{UserAgent: "ua"}, nil)
	require.Error(t, err)
}

func TestLauncher_AuthenticatedProxyStartsRelay(t *testing.T) {
	launcher := newTestLauncher(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	proxy := &schemas.ProxyEndpoint{Scheme: "http", Host: "127.0.0.1", Port: 1, Username: "u", Password: "p"}
	sess, err := launcher.Launch(ctx, schemas.Identity{UserAgent: "ua"}, proxy)
	require.NoError(t, err)

	s := sess.(*Session)
	require.NotNil(t, s.relay)
	assert.NotEmpty(t, s.relay.Addr())

	require.NoError(t, sess.Close(context.Background()))
	assert.Empty(t, s.relay.Addr())
}

func TestLauncher_RelayStartFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	launcher := NewLauncher(LauncherConfig{
		Browser:       config.BrowserConfig{Headless: true, ExecPath: "/nonexistent/chrome"},
		LaunchTimeout: time.Second,
		OpTimeout:     time.Second,
		RelayAddr:     busy.Addr().String(),
	}, zaptest.NewLogger(t))

	proxy := &schemas.ProxyEndpoint{Scheme: "http", Host: "127.0.0.1", Port: 3128, Username: "u", Password: "p"}
	sess, err := launcher.Launch(context.Background(), schemas.Identity{UserAgent: "ua"}, proxy)
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.ErrorContains(t, err, "start relay")
	assert.NotContains(t, err.Error(), "p@")
}
