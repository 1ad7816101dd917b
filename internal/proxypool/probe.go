package proxypool

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/network"
)

const (
	checkDialTimeout = 5 * time.Second
	checkTLSTimeout  = 5 * time.Second
)

// HTTPProber fetches CheckURL through the endpoint and requires a 2xx answer. Redirects are
// not followed, so a captive portal counts as unhealthy.
type HTTPProber struct {
	CheckURL string
	Timeout  time.Duration
}

// Probe implements Prober.
func (hp HTTPProber) Probe(ctx context.Context, ep schemas.ProxyEndpoint) (time.Duration, error) {
	timeout := hp.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := clientFor(ep, timeout)
	if err != nil {
		return 0, err
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hp.CheckURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe via %s: %w", ep.Redacted(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return latency, fmt.Errorf("probe via %s: unexpected status %d", ep.Redacted(), resp.StatusCode)
	}
	return latency, nil
}

// clientFor builds a single-use client whose every connection leaves through ep.
func clientFor(ep schemas.ProxyEndpoint, timeout time.Duration) (*http.Client, error) {
	cfg := network.NewDefaultClientConfig()
	cfg.RequestTimeout = timeout
	cfg.DialTimeout = checkDialTimeout
	cfg.TLSHandshakeTimeout = checkTLSTimeout
	cfg.ResponseHeaderTimeout = timeout
	cfg.ForceHTTP2 = false
	cfg.DisableKeepAlives = true

	switch ep.Scheme {
	case "http", "https":
		cfg.ProxyURL = ep.URL()
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if ep.HasCredentials() {
			auth = &proxy.Auth{User: ep.Username, Password: ep.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", ep.Address(), auth, &net.Dialer{Timeout: checkDialTimeout})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", ep.Redacted(), err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", ep.Redacted())
		}
		cfg.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("unsupported scheme %q", ep.Scheme)
	}
	return network.NewClient(cfg), nil
}
