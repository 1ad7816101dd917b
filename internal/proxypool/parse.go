package proxypool

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

var defaultPorts = map[string]int{
	"http":    80,
	"https":   443,
	"socks5":  1080,
	"socks5h": 1080,
}

// ParseError is a ProxyParseError: the endpoint is excluded, the load continues.
type ParseError struct {
	Position int    // 1-based position in the configured list
	Input    string // redacted input
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("proxy #%d %q: %s", e.Position, e.Input, e.Reason)
}

// Skipped converts parse errors into report entries.
func Skipped(errs []*ParseError) []schemas.SkippedProxy {
	if len(errs) == 0 {
		return nil
	}
	out := make([]schemas.SkippedProxy, 0, len(errs))
	for _, e := range errs {
		out = append(out, schemas.SkippedProxy{Position: e.Position, Input: e.Input, Reason: e.Reason})
	}
	return out
}

// SplitList splits a semicolon separated list of proxy URLs, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse turns scheme://[user:secret@]host[:port] into an untested endpoint.
func Parse(raw string) (schemas.ProxyEndpoint, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return schemas.ProxyEndpoint{}, fmt.Errorf("malformed URL")
	}
	if u.Scheme == "" || !strings.Contains(raw, "://") {
		return schemas.ProxyEndpoint{}, fmt.Errorf("missing scheme")
	}
	scheme := strings.ToLower(u.Scheme)
	defPort, ok := defaultPorts[scheme]
	if !ok {
		return schemas.ProxyEndpoint{}, fmt.Errorf("unsupported scheme %q", scheme)
	}
	host := u.Hostname()
	if host == "" {
		return schemas.ProxyEndpoint{}, fmt.Errorf("missing host")
	}

	port := defPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return schemas.ProxyEndpoint{}, fmt.Errorf("invalid port %q", p)
		}
	}

	ep := schemas.ProxyEndpoint{Scheme: scheme, Host: host, Port: port, Health: schemas.HealthUntested}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
		if ep.Username == "" || ep.Password == "" {
			return schemas.ProxyEndpoint{}, fmt.Errorf("credentials need both user and secret")
		}
	}
	return ep, nil
}

// redact hides anything between "://" and "@" so parse errors never echo a secret.
func redact(raw string) string {
	at := strings.LastIndex(raw, "@")
	if at < 0 {
		return raw
	}
	start := strings.Index(raw, "://")
	if start < 0 || start > at {
		return "***" + raw[at:]
	}
	return raw[:start+3] + "***" + raw[at:]
}
