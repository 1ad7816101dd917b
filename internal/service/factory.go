// Package service wires the configured components of one run.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/internal/attempt"
	"github.com/xkilldash9x/hostkeep/internal/browser"
	"github.com/xkilldash9x/hostkeep/internal/challenge"
	"github.com/xkilldash9x/hostkeep/internal/config"
	"github.com/xkilldash9x/hostkeep/internal/driver"
	"github.com/xkilldash9x/hostkeep/internal/identity"
	"github.com/xkilldash9x/hostkeep/internal/notify"
	"github.com/xkilldash9x/hostkeep/internal/orchestrator"
	"github.com/xkilldash9x/hostkeep/internal/proxypool"
	"github.com/xkilldash9x/hostkeep/internal/report"
)

// ComponentFactory creates the set of components needed for a run. The abstraction lets
// the commands be tested without a browser.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// FactoryOption overrides a collaborator the factory would otherwise build itself.
type FactoryOption func(*concreteFactory)

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l driver.Launcher) FactoryOption {
	return func(f *concreteFactory) { f.launcher = l }
}

// WithSink replaces the notification fan-out.
func WithSink(s notify.Sink) FactoryOption {
	return func(f *concreteFactory) { f.sink = s }
}

// WithIdentitySeed makes identity draws reproducible.
func WithIdentitySeed(seed int64) FactoryOption {
	return func(f *concreteFactory) { f.identities = identity.NewSeededPool(seed) }
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	launcher   driver.Launcher
	sink       notify.Sink
	identities *identity.Pool
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Create builds every component from cfg. Proxies are health-checked here when enabled,
// so Create may block for up to the probe timeout.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("service: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var httpClient *http.Client
	sink := f.sink
	if sink == nil {
		httpClient = InitializeHTTPClient(cfg.Notify.Telegram, logger)
		sink = InitializeSink(cfg.Notify, httpClient, logger)
	}

	proxies, proxyErrs := InitializeProxyPool(ctx, cfg.Proxy, logger)

	identities := f.identities
	if identities == nil {
		identities = identity.NewPool(nil)
	}

	resolver := challenge.NewResolver(challenge.Config{
		BlockPatterns:    cfg.Site.BlockPatterns,
		HeadingSelector:  cfg.Site.HeadingSelector,
		CheckboxSelector: cfg.Site.CheckboxSelector,
		ElementTimeout:   cfg.Timeouts.Element,
		ClickTimeout:     cfg.Timeouts.Click,
		SettleTimeout:    cfg.Timeouts.Challenge,
	}, sink, logger)

	launcher := f.launcher
	if launcher == nil {
		launcher = browser.NewLauncher(browser.LauncherConfig{
			Browser:       cfg.Browser,
			LaunchTimeout: cfg.Timeouts.Launch,
			OpTimeout:     cfg.Timeouts.Element,
			ScreenshotDir: cfg.Run.ScreenshotDir,
			RelayAddr:     cfg.Proxy.RelayAddr,
		}, logger)
	}

	attempts := attempt.New(attempt.Deps{
		Launcher: launcher,
		Resolver: resolver,
		Config:   AttemptConfig(cfg),
		Logger:   logger,
	})

	controller, err := orchestrator.NewController(identities, proxies, attempts,
		orchestrator.Backoff{Base: cfg.Retry.BaseDelay, Max: cfg.Retry.MaxDelay}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry controller: %w", err)
	}

	aggregator := report.NewAggregator(sink, logger, cfg.Run.ReportTimeout).
		SkipProxies(proxypool.Skipped(proxyErrs))
	runner := orchestrator.NewRunner(controller, aggregator, cfg.Retry.MaxAttempts, logger)

	logger.Debug("Run components initialized.",
		zap.Int("proxies", len(proxies.Healthy())),
		zap.Int("max_attempts", cfg.Retry.MaxAttempts),
	)

	return &Components{
		Config:     cfg,
		Proxies:    proxies,
		Sink:       sink,
		Launcher:   launcher,
		Runner:     runner,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// AttemptConfig maps the site and timeout sections onto the attempt's configuration.
func AttemptConfig(cfg *config.Config) attempt.Config {
	return attempt.Config{
		LoginURL:           cfg.Site.LoginURL,
		AuthenticatedURL:   cfg.Site.AuthenticatedURL,
		IdentifierSelector: cfg.Site.IdentifierSelector,
		SecretSelector:     cfg.Site.SecretSelector,
		SubmitSelector:     cfg.Site.SubmitSelector,
		ErrorSelector:      cfg.Site.ErrorSelector,
		GreetingSelector:   cfg.Site.GreetingSelector,
		NavigationTimeout:  cfg.Timeouts.Navigation,
		SettleTimeout:      cfg.Timeouts.Settle,
		ElementTimeout:     cfg.Timeouts.Element,
		ClickTimeout:       cfg.Timeouts.Click,
		OutcomeWindow:      cfg.Timeouts.OutcomeWindow,
		CloseTimeout:       cfg.Timeouts.Close,
	}
}
