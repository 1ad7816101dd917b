package browser

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// commonNgrams are typed faster than arbitrary pairs.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true,
}

// Typist sends text to the focused element one key at a time, with a gaussian dwell per key
// and a gaussian flight time between keys. All values are milliseconds.
type Typist struct {
	HoldMean     float64
	HoldStdDev   float64
	HoldMin      float64
	FlightMean   float64
	FlightStdDev float64
	FlightMin    float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTypist returns a typist with roughly 60 words-per-minute timings.
func NewTypist(src rand.Source) *Typist {
	return &Typist{
		HoldMean:     55,
		HoldStdDev:   15,
		HoldMin:      20,
		FlightMean:   70,
		FlightStdDev: 28,
		FlightMin:    35,
		rng:          rand.New(src),
	}
}

// Type types text into whatever element currently has focus.
func (t *Typist) Type(text string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		runes := []rune(text)
		for i, r := range runes {
			if i > 0 {
				if err := chromedp.Sleep(t.flight(runes, i)).Do(ctx); err != nil {
					return err
				}
			}
			if err := chromedp.KeyEvent(string(r)).Do(ctx); err != nil {
				return fmt.Errorf("failed to send key %d of %d: %w", i+1, len(runes), err)
			}
			if err := chromedp.Sleep(t.hold()).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Budget is a generous bound on how long Type takes for text.
func (t *Typist) Budget(text string) time.Duration {
	perKey := (t.HoldMean + 3*t.HoldStdDev) + (t.FlightMean + 3*t.FlightStdDev)
	return time.Duration(float64(len([]rune(text)))*perKey) * time.Millisecond
}

func (t *Typist) norm() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.NormFloat64()
}

// hold is the dwell after a key is sent.
func (t *Typist) hold() time.Duration {
	delay := math.Max(t.HoldMin, t.norm()*t.HoldStdDev+t.HoldMean)
	return time.Duration(delay * float64(time.Millisecond))
}

// flight is the pause before runes[index]; common digrams and trigrams ending there are
// typed in a faster rhythm.
func (t *Typist) flight(runes []rune, index int) time.Duration {
	factor := ngramFactor(runes, index)
	mean := t.FlightMean * factor
	minDelay := t.FlightMin * factor
	delay := math.Max(minDelay, t.norm()*t.FlightStdDev+mean)
	return time.Duration(delay * float64(time.Millisecond))
}

func ngramFactor(runes []rune, index int) float64 {
	if index <= 0 || index >= len(runes) {
		return 1.0
	}
	if index >= 2 && commonNgrams[strings.ToLower(string(runes[index-2:index+1]))] {
		return 0.55
	}
	if commonNgrams[strings.ToLower(string(runes[index-1:index+1]))] {
		return 0.7
	}
	return 1.0
}
