package attempt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/driver"
)

// errNoOutcome means the window closed without any detector firing.
var errNoOutcome = errors.New("no login outcome detected")

type detection struct {
	priority int
	outcome  schemas.OutcomeKind
	detail   string
}

type detector func(ctx context.Context) (detection, error)

// detectors lists the outcome detectors in priority order.
func (a *Attempt) detectors(page driver.Page) []detector {
	window := a.cfg.OutcomeWindow
	return []detector{
		func(ctx context.Context) (detection, error) {
			if err := page.WaitForSelector(ctx, a.cfg.ErrorSelector, window); err != nil {
				return detection{}, err
			}
			text, err := page.Text(ctx, a.cfg.ErrorSelector)
			if err != nil {
				text = "login error shown"
			}
			return detection{outcome: schemas.OutcomeCredentialRejected, detail: strings.TrimSpace(text)}, nil
		},
		func(ctx context.Context) (detection, error) {
			if err := page.WaitForURL(ctx, a.cfg.AuthenticatedURL, window); err != nil {
				return detection{}, err
			}
			return detection{outcome: schemas.OutcomeSuccess, detail: "reached authenticated area"}, nil
		},
		func(ctx context.Context) (detection, error) {
			if err := page.WaitForSelector(ctx, a.cfg.GreetingSelector, window); err != nil {
				return detection{}, err
			}
			return detection{outcome: schemas.OutcomeSuccess, detail: "greeting marker visible"}, nil
		},
	}
}

// detect races the detectors within one shared window. The first hit stops the others; when
// several hit, the earliest in priority order wins. A panic in a detector is re-raised on the
// calling goroutine after all detectors have returned.
func (a *Attempt) detect(ctx context.Context, page driver.Page) (detection, error) {
	wctx, cancel := context.WithTimeout(ctx, a.cfg.OutcomeWindow)
	defer cancel()

	dets := a.detectors(page)
	var (
		mu       sync.Mutex
		hits     []detection
		firstErr error
		panicVal any
		wg       sync.WaitGroup
	)
	for i, d := range dets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					mu.Lock()
					if panicVal == nil {
						panicVal = p
					}
					mu.Unlock()
					cancel()
				}
			}()
			hit, err := d(wctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil && !driver.IsTimeout(err) && !errors.Is(err, context.Canceled) {
					firstErr = err
				}
				return
			}
			hit.priority = i
			hits = append(hits, hit)
			cancel()
		}()
	}
	wg.Wait()

	if panicVal != nil {
		panic(panicVal)
	}
	if len(hits) > 0 {
		best := hits[0]
		for _, h := range hits[1:] {
			if h.priority < best.priority {
				best = h
			}
		}
		return best, nil
	}
	if err := ctx.Err(); err != nil {
		return detection{}, err
	}
	if firstErr != nil {
		return detection{}, firstErr
	}
	return detection{}, fmt.Errorf("%w within %s", errNoOutcome, a.cfg.OutcomeWindow)
}
