package service

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/config"
	"github.com/xkilldash9x/hostkeep/internal/driver"
	"github.com/xkilldash9x/hostkeep/internal/notify"
	"github.com/xkilldash9x/hostkeep/internal/orchestrator"
	"github.com/xkilldash9x/hostkeep/internal/proxypool"
)

// Components holds everything one run needs. It is created at run start and dropped at
// run end; nothing in it is shared across runs.
type Components struct {
	Config   *config.Config
	Proxies  *proxypool.Pool
	Sink     notify.Sink
	Launcher driver.Launcher
	Runner   *orchestrator.Runner

	httpClient *http.Client
	logger     *zap.Logger
}

// Run processes the configured accounts and returns the emitted report.
func (c *Components) Run(ctx context.Context) schemas.RunReport {
	return c.Runner.Run(ctx, config.ParseAccounts(c.Config.Run.Accounts))
}

// Shutdown releases what the components hold between runs.
func (c *Components) Shutdown() {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	if c.logger != nil {
		c.logger.Debug("Run components shut down.")
	}
}
