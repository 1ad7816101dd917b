package service

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/internal/config"
	"github.com/xkilldash9x/hostkeep/internal/network"
	"github.com/xkilldash9x/hostkeep/internal/notify"
	"github.com/xkilldash9x/hostkeep/internal/proxypool"
)

// InitializeHTTPClient builds the client used for notification delivery.
func InitializeHTTPClient(cfg config.TelegramConfig, logger *zap.Logger) *http.Client {
	clientCfg := network.NewDefaultClientConfig()
	clientCfg.RequestTimeout = cfg.Timeout
	clientCfg.Logger = logger.Named("httpclient")
	return network.NewClient(clientCfg)
}

// InitializeSink builds the notification fan-out. The log sink is always attached. The
// Telegram sink is attached even without credentials so that every undelivered message
// surfaces as a logged "not configured" failure.
func InitializeSink(cfg config.NotifyConfig, client *http.Client, logger *zap.Logger) notify.Sink {
	if !cfg.Telegram.Enabled() {
		logger.Warn("Telegram is not configured; notifications go to the log only.")
	}
	telegram := notify.NewTelegram(notify.TelegramConfig{
		BotToken:      cfg.Telegram.BotToken,
		ChatID:        cfg.Telegram.ChatID,
		APIBase:       cfg.Telegram.APIBase,
		RatePerSecond: cfg.Telegram.Rate,
		Timeout:       cfg.Telegram.Timeout,
	}, client, logger)
	return notify.Multi{notify.NewLogSink(logger), telegram}
}

// InitializeProxyPool parses the configured proxies and, when enabled, health-checks them.
// Malformed entries are dropped by the pool; their parse errors are returned for reporting.
func InitializeProxyPool(ctx context.Context, cfg config.ProxyConfig, logger *zap.Logger) (*proxypool.Pool, []*proxypool.ParseError) {
	pool, parseErrs := proxypool.Load(proxypool.SplitList(cfg.URLs), proxypool.WithLogger(logger))
	if len(pool.Endpoints()) == 0 {
		logger.Info("No proxies configured; connecting directly.")
		return pool, parseErrs
	}
	if !cfg.HealthCheck {
		return pool, parseErrs
	}

	prober := proxypool.HTTPProber{CheckURL: cfg.CheckURL, Timeout: cfg.ProbeTimeout}
	if len(pool.HealthCheck(ctx, prober, cfg.Concurrency)) == 0 {
		logger.Warn("No proxy passed the health check; connecting directly.")
	}
	return pool, parseErrs
}
