// Package driver defines the page-driver capability consumed by the login core.
// Concrete implementations live in internal/browser; tests use in-memory fakes.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

// ErrTimeout is wrapped by every driver error caused by an exhausted wait.
var ErrTimeout = errors.New("driver: timeout")

// Error is the DriverError signal: a failed page operation.
type Error struct {
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("driver %s %q: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is (or wraps) a driver timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Page is the set of page operations the login core relies on.
// Every call either succeeds or fails with an error wrapping ErrTimeout or an *Error.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error
	Screenshot(ctx context.Context) (string, error)

	// WaitForLoad blocks until the document has finished loading or the timeout passes.
	WaitForLoad(ctx context.Context, timeout time.Duration) error
	// Count returns how many elements currently match selector. It never waits.
	Count(ctx context.Context, selector string) (int, error)
	Text(ctx context.Context, selector string) (string, error)
	Title(ctx context.Context) (string, error)
	ScrollIntoView(ctx context.Context, selector string) error
}

// Session is a browsing session owned by exactly one attempt.
type Session interface {
	Page
	// Close releases the session and its processes. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Launcher acquires a fresh session presenting the given identity through the given proxy.
// A nil proxy means a direct connection.
type Launcher interface {
	Launch(ctx context.Context, identity schemas.Identity, proxy *schemas.ProxyEndpoint) (Session, error)
}

// MatchURL reports whether url satisfies a WaitForURL pattern. A trailing "*" makes the
// pattern a prefix match; otherwise the URL must equal the pattern, ignoring a trailing slash
// and any query string or fragment.
func MatchURL(pattern, url string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(url, prefix)
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.TrimSuffix(url, "/") == strings.TrimSuffix(pattern, "/")
}
