// Package proxypool parses, health-checks and rotates egress proxies.
package proxypool

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

// Prober measures one endpoint against a reference URL.
type Prober interface {
	Probe(ctx context.Context, ep schemas.ProxyEndpoint) (time.Duration, error)
}

// Pool holds the usable endpoints. Before a health check every loaded endpoint is usable;
// after one, only the healthy ones, ordered by latency. The usable set is replaced
// wholesale on publish and never mutated by selection.
type Pool struct {
	mu     sync.RWMutex
	all    []schemas.ProxyEndpoint
	usable []schemas.ProxyEndpoint

	rngMu sync.Mutex
	rng   *rand.Rand

	logger *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand makes selection deterministic.
func WithRand(src rand.Source) Option {
	return func(p *Pool) { p.rng = rand.New(src) }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l.Named("proxy_pool") }
}

// Load parses raw endpoint URLs. Invalid entries are excluded and reported; they never fail
// the load.
func Load(raw []string, opts ...Option) (*Pool, []*ParseError) {
	p := &Pool{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}

	var errs []*ParseError
	for i, r := range raw {
		ep, err := Parse(r)
		if err != nil {
			pe := &ParseError{Position: i + 1, Input: redact(r), Reason: err.Error()}
			p.logger.Warn("Excluding proxy endpoint", zap.Error(pe))
			errs = append(errs, pe)
			continue
		}
		p.all = append(p.all, ep)
	}
	p.usable = append([]schemas.ProxyEndpoint(nil), p.all...)
	p.logger.Info("Proxy endpoints loaded", zap.Int("loaded", len(p.all)), zap.Int("rejected", len(errs)))
	return p, errs
}

// Endpoints returns every loaded endpoint, regardless of health.
func (p *Pool) Endpoints() []schemas.ProxyEndpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]schemas.ProxyEndpoint(nil), p.all...)
}

// Healthy returns the current usable set.
func (p *Pool) Healthy() []schemas.ProxyEndpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]schemas.ProxyEndpoint(nil), p.usable...)
}

// HealthCheck probes every loaded endpoint with at most limit probes in flight, publishes
// the healthy ones (ascending latency) as the usable set and returns them.
func (p *Pool) HealthCheck(ctx context.Context, prober Prober, limit int) []schemas.ProxyEndpoint {
	endpoints := p.Endpoints()
	if limit <= 0 {
		limit = 1
	}

	// Each probe writes only its own slot; slots are merged after Wait.
	checked := make([]schemas.ProxyEndpoint, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, ep := range endpoints {
		g.Go(func() error {
			latency, err := prober.Probe(gctx, ep)
			ep.Latency = latency
			if err != nil {
				ep.Health = schemas.HealthUnhealthy
				p.logger.Debug("Proxy probe failed", zap.Stringer("proxy", ep), zap.Error(err))
			} else {
				ep.Health = schemas.HealthHealthy
				p.logger.Debug("Proxy probe succeeded", zap.Stringer("proxy", ep), zap.Duration("latency", latency))
			}
			checked[i] = ep
			// Probe failures are per-endpoint facts, not group errors.
			return nil
		})
	}
	_ = g.Wait()

	healthy := make([]schemas.ProxyEndpoint, 0, len(checked))
	for _, ep := range checked {
		if ep.Health == schemas.HealthHealthy {
			healthy = append(healthy, ep)
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool { return healthy[i].Latency < healthy[j].Latency })

	p.mu.Lock()
	p.all = checked
	p.usable = healthy
	p.mu.Unlock()

	p.logger.Info("Proxy health check complete",
		zap.Int("probed", len(checked)),
		zap.Int("healthy", len(healthy)),
	)
	return append([]schemas.ProxyEndpoint(nil), healthy...)
}

// Select picks a usable endpoint uniformly at random. Nil means a direct connection.
func (p *Pool) Select() *schemas.ProxyEndpoint {
	return p.pick(nil)
}

// Rotate is Select excluding exclude. When exclude is the only usable endpoint (or nothing
// is usable) exclude itself is returned; rotation is best effort and never blocks.
func (p *Pool) Rotate(exclude *schemas.ProxyEndpoint) *schemas.ProxyEndpoint {
	if exclude == nil {
		return p.Select()
	}
	if ep := p.pick(exclude); ep != nil {
		return ep
	}
	same := *exclude
	return &same
}

func (p *Pool) pick(exclude *schemas.ProxyEndpoint) *schemas.ProxyEndpoint {
	p.mu.RLock()
	candidates := make([]schemas.ProxyEndpoint, 0, len(p.usable))
	for _, ep := range p.usable {
		if exclude != nil && ep.Key() == exclude.Key() {
			continue
		}
		candidates = append(candidates, ep)
	}
	p.mu.RUnlock()

	if len(candidates) == 0 {
		return nil
	}
	p.rngMu.Lock()
	ep := candidates[p.rng.Intn(len(candidates))]
	p.rngMu.Unlock()
	return &ep
}
