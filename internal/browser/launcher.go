// Package browser drives Chrome over the DevTools protocol for the login attempts.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/config"
	"github.com/xkilldash9x/hostkeep/internal/driver"
	"github.com/xkilldash9x/hostkeep/internal/network"
)

// LauncherConfig holds what the launcher needs from the application config.
type LauncherConfig struct {
	Browser       config.BrowserConfig
	LaunchTimeout time.Duration
	// OpTimeout bounds page operations that carry no timeout of their own.
	OpTimeout     time.Duration
	ScreenshotDir string
	RelayAddr     string
}

// Launcher starts one Chrome process per attempt, so identities never share a profile.
type Launcher struct {
	cfg    LauncherConfig
	logger *zap.Logger
}

var _ driver.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher. Nothing is started until Launch.
func NewLauncher(cfg LauncherConfig, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 60 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.RelayAddr == "" {
		cfg.RelayAddr = "127.0.0.1:0"
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = "screenshots"
	}
	return &Launcher{cfg: cfg, logger: logger.Named("browser")}
}

// Launch starts Chrome presenting identity through proxy (nil for direct). Authenticated
// proxies are reached through a local relay that adds the credentials.
func (l *Launcher) Launch(ctx context.Context, identity schemas.Identity, proxy *schemas.ProxyEndpoint) (driver.Session, error) {
	sessionID := uuid.NewString()
	logger := l.logger.With(zap.String("session_id", sessionID))

	var relay *network.Relay
	proxyServer := ""
	if proxy != nil {
		if proxy.HasCredentials() {
			var err error
			relay, err = network.NewRelay(*proxy, logger)
			if err != nil {
				return nil, fmt.Errorf("create relay: %w", err)
			}
			if proxyServer, err = relay.Start(l.cfg.RelayAddr); err != nil {
				l.closeRelay(relay)
				return nil, fmt.Errorf("start relay: %w", err)
			}
		} else {
			proxyServer = proxy.ServerURL()
		}
		logger = logger.With(zap.Stringer("proxy", proxy))
	}

	tasks, err := ApplyIdentity(identity, logger)
	if err != nil {
		l.closeRelay(relay)
		return nil, err
	}

	// The browser lives until Session.Close; the caller's context only bounds startup.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		AllocatorOptions(l.cfg.Browser, identity, proxyServer)...)
	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(logger.Sugar().Debugf)}
	if l.cfg.Browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Sugar().Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	session := &Session{
		id:  sessionID,
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		relay:         relay,
		logger:        logger,
		opTimeout:     l.cfg.OpTimeout,
		screenshotDir: l.cfg.ScreenshotDir,
	}
	if l.cfg.Browser.HumanTyping {
		session.typist = NewTypist(rand.NewSource(time.Now().UnixNano()))
	}

	// The first Run allocates the browser. It must run on the tab context itself: a
	// deadline on it would kill the process when it fires.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx, tasks) }()

	timer := time.NewTimer(l.cfg.LaunchTimeout)
	defer timer.Stop()
	select {
	case err = <-started:
	case <-timer.C:
		session.cancel()
		<-started
		err = driver.ErrTimeout
	case <-ctx.Done():
		session.cancel()
		<-started
		err = ctx.Err()
	}
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = session.Close(closeCtx)
		return nil, classify("launch", "", err)
	}

	logger.Debug("Browser session started.", zap.String("user_agent", identity.UserAgent))
	return session, nil
}

func (l *Launcher) closeRelay(relay *network.Relay) {
	if relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := relay.Close(ctx); err != nil {
		l.logger.Debug("Relay close failed.", zap.Error(err))
	}
}
