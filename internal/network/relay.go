package network

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

// Chromium cannot answer proxy authentication challenges from the command line, so an
// authenticated upstream is fronted by an unauthenticated relay on loopback.

const upstreamDialTimeout = 15 * time.Second

// Relay is a local forward proxy that sends every request through one upstream endpoint,
// adding the upstream credentials itself.
type Relay struct {
	proxy    *goproxy.ProxyHttpServer
	upstream schemas.ProxyEndpoint
	logger   *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	served   chan struct{}
}

// NewRelay configures a relay for upstream. The relay does not listen until Start.
func NewRelay(upstream schemas.ProxyEndpoint, logger *zap.Logger) (*Relay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := goproxy.NewProxyHttpServer()
	p.Logger = zap.NewStdLog(logger.Named("goproxy"))

	dialer := &net.Dialer{Timeout: upstreamDialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       30 * time.Second,
		MaxIdleConnsPerHost:   4,
	}

	switch upstream.Scheme {
	case "http", "https":
		tr.Proxy = http.ProxyURL(upstream.URL())
		tr.DialContext = dialer.DialContext
		p.ConnectDial = func(network, addr string) (net.Conn, error) {
			ctx, cancel := context.WithTimeout(context.Background(), upstreamDialTimeout)
			defer cancel()
			return connectThrough(ctx, dialer, upstream, addr)
		}
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if upstream.HasCredentials() {
			auth = &proxy.Auth{User: upstream.Username, Password: upstream.Password}
		}
		d, err := proxy.SOCKS5("tcp", upstream.Address(), auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", upstream.Redacted(), err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", upstream.Redacted())
		}
		tr.DialContext = cd.DialContext
		p.ConnectDial = d.Dial
	default:
		return nil, fmt.Errorf("unsupported upstream scheme %q", upstream.Scheme)
	}
	p.Tr = tr

	r := &Relay{
		proxy:    p,
		upstream: upstream,
		logger:   logger.Named("relay").With(zap.Stringer("upstream", upstream)),
	}
	r.setupHandlers()
	return r, nil
}

func (r *Relay) setupHandlers() {
	r.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		r.logger.Debug("Relaying tunnel", zap.String("host", host))
		return goproxy.OkConnect, host
	}))
	r.proxy.OnResponse().DoFunc(r.handleResponse)
}

// handleResponse turns a failed upstream round trip into a 502 the browser can render.
func (r *Relay) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp != nil {
		return resp
	}
	msg := "unknown error"
	if ctx.Error != nil {
		msg = ctx.Error.Error()
	}
	r.logger.Warn("Upstream round trip failed", zap.String("error", msg))
	if ctx.Req == nil {
		return nil
	}
	return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, "relay: upstream failed: "+msg)
}

// Start listens on addr and serves in the background. It returns the http:// URL the
// browser should use as its proxy server.
func (r *Relay) Start(addr string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return "", errors.New("relay already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("relay listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           r.proxy,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(r.logger.Named("http_server")),
	}
	served := make(chan struct{})
	r.server, r.listener, r.served = server, ln, served

	go func() {
		defer close(served)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("Relay stopped with an error", zap.Error(err))
		}
	}()

	r.logger.Debug("Relay listening", zap.String("address", ln.Addr().String()))
	return "http://" + ln.Addr().String(), nil
}

// Addr returns the listening address, or "" before Start.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Close stops accepting connections and waits for the serve loop to exit. Established
// tunnels end when either side closes them. Close is safe to call more than once.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	server, served := r.server, r.served
	r.server, r.listener = nil, nil
	r.mu.Unlock()
	if server == nil {
		return nil
	}

	err := server.Shutdown(ctx)
	if err != nil {
		_ = server.Close()
	}
	<-served
	if tr := r.proxy.Tr; tr != nil {
		tr.CloseIdleConnections()
	}
	return err
}

// connectThrough opens a CONNECT tunnel to addr via an HTTP(S) upstream.
func connectThrough(ctx context.Context, dialer *net.Dialer, upstream schemas.ProxyEndpoint, addr string) (net.Conn, error) {
	conn, err := dialer.DialContext(ctx, "tcp", upstream.Address())
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", upstream.Redacted(), err)
	}
	if upstream.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: upstream.Host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake with upstream %s: %w", upstream.Redacted(), err)
		}
		conn = tlsConn
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if upstream.HasCredentials() {
		token := base64.StdEncoding.EncodeToString([]byte(upstream.Username + ":" + upstream.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+token)
	}
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write CONNECT to %s: %w", upstream.Redacted(), err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read CONNECT response from %s: %w", upstream.Redacted(), err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("upstream %s refused CONNECT %s: %s", upstream.Redacted(), addr, resp.Status)
	}
	_ = conn.SetDeadline(time.Time{})
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn replays bytes the upstream sent right after its CONNECT response.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }
