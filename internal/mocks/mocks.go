// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/driver"
	"github.com/xkilldash9x/hostkeep/internal/notify"
)

// -- Page Fake --

// Page is a scripted, in-memory driver.Page. Zero value behaves like an empty page on which
// every wait times out. Op names used by Errs and Panics: navigate, fill, click, wait, url,
// screenshot, load, count, text, title, scroll.
type Page struct {
	mu sync.Mutex

	CurrentURL     string
	TitleText      string
	Counts         map[string]int    // selector -> number of matches
	Texts          map[string]string // selector -> inner text
	Visible        map[string]bool   // selectors WaitForSelector finds
	ScreenshotPath string

	// OnClick mutates page state when a selector is clicked, e.g. a checkbox clearing a challenge
	// or a submit button revealing the post-login marker.
	OnClick map[string]func(p *Page)

	Errs   map[string]error
	Panics map[string]any

	calls []string
}

var _ driver.Page = (*Page)(nil)

// NewPage returns an empty page at url.
func NewPage(url string) *Page {
	return &Page{
		CurrentURL: url,
		Counts:     map[string]int{},
		Texts:      map[string]string{},
		Visible:    map[string]bool{},
		OnClick:    map[string]func(p *Page){},
		Errs:       map[string]error{},
		Panics:     map[string]any{},
	}
}

// Calls returns the recorded operations in order, e.g. "click #submit".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Show marks selector as present and visible.
func (p *Page) Show(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Visible[selector] = true
	p.Counts[selector] = 1
}

// Hide removes selector from the page.
func (p *Page) Hide(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Visible, selector)
	delete(p.Counts, selector)
}

// SetURL changes the current location.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = url
}

func (p *Page) enter(op, target string) error {
	p.mu.Lock()
	p.calls = append(p.calls, fmt.Sprintf("%s %s", op, target))
	v, doPanic := p.Panics[op]
	err := p.Errs[op]
	p.mu.Unlock()
	if doPanic {
		panic(v)
	}
	return err
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.enter("navigate", url); err != nil {
		return err
	}
	p.SetURL(url)
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.enter("fill", selector)
}

func (p *Page) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.enter("click", selector); err != nil {
		return err
	}
	p.mu.Lock()
	hook := p.OnClick[selector]
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.enter("wait", selector); err != nil {
		return err
	}
	return p.waitUntil(ctx, "wait", selector, timeout, func() bool { return p.Visible[selector] })
}

func (p *Page) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	if err := p.enter("url", pattern); err != nil {
		return err
	}
	return p.waitUntil(ctx, "url", pattern, timeout, func() bool { return driver.MatchURL(pattern, p.CurrentURL) })
}

// waitUntil polls cond (evaluated under the lock) until it holds, the timeout passes or ctx ends.
func (p *Page) waitUntil(ctx context.Context, op, target string, timeout time.Duration, cond func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		p.mu.Lock()
		ok := cond()
		p.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return &driver.Error{Op: op, Target: target, Err: fmt.Errorf("%w: %v", driver.ErrTimeout, ctx.Err())}
		case <-deadline.C:
			return &driver.Error{Op: op, Target: target, Err: driver.ErrTimeout}
		case <-tick.C:
		}
	}
}

func (p *Page) Screenshot(ctx context.Context) (string, error) {
	if err := p.enter("screenshot", ""); err != nil {
		return "", err
	}
	if p.ScreenshotPath == "" {
		return "screenshot.png", nil
	}
	return p.ScreenshotPath, nil
}

func (p *Page) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	return p.enter("load", "")
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := p.enter("count", selector); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Counts[selector], nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	if err := p.enter("text", selector); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Texts[selector], nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	if err := p.enter("title", ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleText, nil
}

func (p *Page) ScrollIntoView(ctx context.Context, selector string) error {
	return p.enter("scroll", selector)
}

// -- Session & Launcher Fakes --

// Session wraps a Page and counts releases.
type Session struct {
	*Page
	closes atomic.Int32
}

var _ driver.Session = (*Session)(nil)

func (s *Session) Close(ctx context.Context) error {
	s.closes.Add(1)
	return nil
}

// Closes reports how many times Close was called.
func (s *Session) Closes() int { return int(s.closes.Load()) }

// Launcher hands out one scripted page per Launch call.
type Launcher struct {
	mu sync.Mutex

	// NewPage builds the page for the n-th launch (1-based).
	NewPage   func(n int) *Page
	LaunchErr error

	sessions   []*Session
	identities []schemas.Identity
	proxies    []*schemas.ProxyEndpoint
}

var _ driver.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context, identity schemas.Identity, proxy *schemas.ProxyEndpoint) (driver.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.identities = append(l.identities, identity)
	l.proxies = append(l.proxies, proxy)
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	n := len(l.identities)
	page := NewPage("about:blank")
	if l.NewPage != nil {
		page = l.NewPage(n)
	}
	s := &Session{Page: page}
	l.sessions = append(l.sessions, s)
	return s, nil
}

// Sessions returns the sessions handed out so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// Proxies returns the proxy passed to each Launch call.
func (l *Launcher) Proxies() []*schemas.ProxyEndpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*schemas.ProxyEndpoint(nil), l.proxies...)
}

// Identities returns the identity passed to each Launch call.
func (l *Launcher) Identities() []schemas.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]schemas.Identity(nil), l.identities...)
}

// -- Notification Sink Mock --

// MockSink mocks notify.Sink.
type MockSink struct {
	mock.Mock
}

var _ notify.Sink = (*MockSink)(nil)

func (m *MockSink) Send(ctx context.Context, msg notify.Message) (notify.DeliveryResult, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(notify.DeliveryResult), args.Error(1)
}

// RecordingSink collects every message it is given and always reports delivery.
type RecordingSink struct {
	mu       sync.Mutex
	messages []notify.Message
}

var _ notify.Sink = (*RecordingSink)(nil)

func (r *RecordingSink) Send(ctx context.Context, msg notify.Message) (notify.DeliveryResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return notify.DeliveryResult{Channel: "recording", Delivered: true}, nil
}

// Messages returns a copy of the received messages.
func (r *RecordingSink) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.messages...)
}
