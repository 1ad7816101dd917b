// Package identity produces randomized browser identities from fixed catalogs.
package identity

import (
	"math/rand"
	"sync"
	"time"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

// Pool draws identities. Each dimension is an independent uniform draw; the pool keeps
// no memory of what it returned before. Safe for concurrent use.
type Pool struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPool creates a pool over src. A nil src seeds from the clock.
func NewPool(src rand.Source) *Pool {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Pool{rng: rand.New(src)}
}

// NewSeededPool is a deterministic pool, for tests and reproducible runs.
func NewSeededPool(seed int64) *Pool {
	return NewPool(rand.NewSource(seed))
}

// Next returns a freshly drawn identity.
func (p *Pool) Next() schemas.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	a := agents[p.rng.Intn(len(agents))]
	vp := viewports[p.rng.Intn(len(viewports))]
	loc := locales[p.rng.Intn(len(locales))]
	tz := timezones[p.rng.Intn(len(timezones))]
	dsf := scaleFactors[p.rng.Intn(len(scaleFactors))]
	touch := touchFlags[p.rng.Intn(len(touchFlags))]

	return schemas.Identity{
		UserAgent:         a.UserAgent,
		Platform:          a.Platform,
		Viewport:          vp,
		Locale:            loc.Tag,
		Languages:         append([]string(nil), loc.Languages...),
		Timezone:          tz,
		Touch:             touch,
		DeviceScaleFactor: dsf,
		CatalogVersion:    CatalogVersion,
	}
}
