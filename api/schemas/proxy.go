package schemas

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// HealthStatus is the result of the most recent probe of a ProxyEndpoint.
type HealthStatus string

const (
	HealthUntested  HealthStatus = "untested"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ProxyEndpoint is one egress path. Username and Password are either both set or both empty.
type ProxyEndpoint struct {
	Scheme   string        `json:"scheme"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Username string        `json:"-"`
	Password string        `json:"-"`
	Health   HealthStatus  `json:"health"`
	Latency  time.Duration `json:"latency"`
}

// HasCredentials reports whether the endpoint requires proxy authentication.
func (p ProxyEndpoint) HasCredentials() bool {
	return p.Username != "" && p.Password != ""
}

// Address returns host:port.
func (p ProxyEndpoint) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ServerURL returns scheme://host:port without credentials.
func (p ProxyEndpoint) ServerURL() string {
	return p.Scheme + "://" + p.Address()
}

// URL returns the full endpoint URL, credentials included.
func (p ProxyEndpoint) URL() *url.URL {
	u := &url.URL{Scheme: p.Scheme, Host: p.Address()}
	if p.HasCredentials() {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Key identifies the egress path independent of its health. Two endpoints with the same
// key are the same path for rotation purposes.
func (p ProxyEndpoint) Key() string {
	if p.Username != "" {
		return p.Scheme + "://" + p.Username + "@" + p.Address()
	}
	return p.ServerURL()
}

// Redacted is the loggable form of the endpoint.
func (p ProxyEndpoint) Redacted() string {
	if p.HasCredentials() {
		return p.Scheme + "://" + p.Username + ":***@" + p.Address()
	}
	return p.ServerURL()
}

func (p ProxyEndpoint) String() string { return p.Redacted() }

// SkippedProxy is a configured proxy that could not be parsed. Input is redacted.
type SkippedProxy struct {
	Position int    `json:"position"` // 1-based position in the configured list
	Input    string `json:"input"`
	Reason   string `json:"reason"`
}
