package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/internal/driver"
	"github.com/xkilldash9x/hostkeep/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const pollInterval = 250 * time.Millisecond

// Session is one Chrome process with a single tab, owned by one login attempt.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc // cancels the tab, then the allocator
	relay  *network.Relay
	logger *zap.Logger

	// opTimeout bounds operations that take no explicit timeout.
	opTimeout     time.Duration
	screenshotDir string
	// typist, when set, types Fill values key by key.
	typist *Typist

	closeOnce sync.Once
	closeErr  error
}

var _ driver.Session = (*Session)(nil)

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// selectorBy picks XPath for selectors written as XPath and CSS otherwise.
func selectorBy(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// classify converts a chromedp failure into the driver's error vocabulary.
func classify(op, target string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = driver.ErrTimeout
	}
	return &driver.Error{Op: op, Target: target, Err: err}
}

// combine derives a context that carries the tab from sessionCtx and stops when callerCtx
// is done or timeout passes.
func combine(sessionCtx, callerCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(sessionCtx, timeout)
	stop := context.AfterFunc(callerCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// run executes actions on the tab. A cancelled caller context is returned as is so the
// attempt can tell cancellation apart from a page timeout.
func (s *Session) run(ctx context.Context, op, target string, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.opTimeout
	}
	runCtx, cancel := combine(s.ctx, ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return classify(op, target, err)
}

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return s.run(ctx, "navigate", url, timeout, chromedp.Navigate(url))
}

// Fill replaces the value of the first visible element matching selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	by := selectorBy(selector)
	if s.typist == nil {
		return s.run(ctx, "fill", selector, 0,
			chromedp.WaitVisible(selector, by),
			chromedp.Clear(selector, by),
			chromedp.SendKeys(selector, value, by),
		)
	}
	return s.run(ctx, "fill", selector, s.opTimeout+s.typist.Budget(value),
		chromedp.WaitVisible(selector, by),
		chromedp.Clear(selector, by),
		chromedp.Focus(selector, by),
		s.typist.Type(value),
	)
}

func (s *Session) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, "click", selector, timeout, chromedp.Click(selector, selectorBy(selector), chromedp.NodeVisible))
}

func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, "wait", selector, timeout, chromedp.WaitVisible(selector, selectorBy(selector)))
}

// WaitForURL polls the tab location until it satisfies pattern (see driver.MatchURL).
func (s *Session) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	return s.run(ctx, "wait_url", pattern, timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return poll(ctx, func(ctx context.Context) (bool, error) {
			var location string
			if err := chromedp.Location(&location).Do(ctx); err != nil {
				return false, err
			}
			return driver.MatchURL(pattern, location), nil
		})
	}))
}

// WaitForLoad polls document.readyState until the document is complete.
func (s *Session) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	return s.run(ctx, "load", "", timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return poll(ctx, func(ctx context.Context) (bool, error) {
			var state string
			if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err != nil {
				return false, err
			}
			return state == "complete", nil
		})
	}))
}

// Count reports how many elements match selector right now.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, "count", selector, 0,
		chromedp.Nodes(selector, &nodes, selectorBy(selector), chromedp.AtLeast(0)))
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.run(ctx, "text", selector, 0, chromedp.Text(selector, &text, selectorBy(selector), chromedp.NodeVisible))
	return text, err
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, "title", "", 0, chromedp.Title(&title))
	return title, err
}

func (s *Session) ScrollIntoView(ctx context.Context, selector string) error {
	return s.run(ctx, "scroll", selector, 0, chromedp.ScrollIntoView(selector, selectorBy(selector)))
}

// Screenshot captures the viewport into the screenshot directory and returns the file path.
func (s *Session) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	if err := s.run(ctx, "screenshot", "", 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.screenshotDir, 0o750); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(s.screenshotDir, fmt.Sprintf("%s-%s.png", time.Now().UTC().Format("20060102T150405"), uuid.NewString()))
	if err := os.WriteFile(path, buf, 0o640); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	s.logger.Debug("Screenshot saved", zap.String("path", path))
	return path, nil
}

// Close shuts the browser down and stops the relay, if any. Only the first call does work.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		done := make(chan error, 1)
		go func() {
			// chromedp.Cancel closes the browser gracefully before cancelling the context.
			done <- chromedp.Cancel(s.ctx)
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("close browser: %w", err)
			}
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("close browser: %w", ctx.Err())
		}
		s.cancel()

		if s.relay != nil {
			if err := s.relay.Close(ctx); err != nil && s.closeErr == nil {
				s.closeErr = fmt.Errorf("close relay: %w", err)
			}
		}
	})
	return s.closeErr
}

// poll calls check every pollInterval until it reports true, fails, or ctx ends.
func poll(ctx context.Context, check func(context.Context) (bool, error)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
