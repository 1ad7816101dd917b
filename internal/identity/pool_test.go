package identity

import (
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

func TestNext_FieldsComeFromCatalogs(t *testing.T) {
	pool := NewSeededPool(7)
	for i := 0; i < 200; i++ {
		id := pool.Next()

		idx := slices.IndexFunc(agents, func(a agent) bool { return a.UserAgent == id.UserAgent })
		require.GreaterOrEqual(t, idx, 0, "unknown user agent %q", id.UserAgent)
		assert.Equal(t, agents[idx].Platform, id.Platform, "platform must agree with the user agent")

		assert.Contains(t, viewports, id.Viewport)
		assert.Contains(t, timezones, id.Timezone)
		assert.Contains(t, scaleFactors, id.DeviceScaleFactor)
		require.NotEmpty(t, id.Languages)
		assert.Equal(t, id.Locale, id.Languages[0])
		assert.Equal(t, CatalogVersion, id.CatalogVersion)
	}
}

func TestNext_PlatformMatchesUserAgentOS(t *testing.T) {
	for _, a := range agents {
		switch {
		case strings.Contains(a.UserAgent, "Windows"):
			assert.Equal(t, "Win32", a.Platform)
		case strings.Contains(a.UserAgent, "Macintosh"):
			assert.Equal(t, "MacIntel", a.Platform)
		case strings.Contains(a.UserAgent, "Linux"):
			assert.Equal(t, "Linux x86_64", a.Platform)
		default:
			t.Fatalf("agent with unknown OS: %s", a.UserAgent)
		}
	}
}

func TestSeededPoolsAreDeterministic(t *testing.T) {
	a, b := NewSeededPool(42), NewSeededPool(42)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(a.Next(), b.Next()); diff != "" {
			t.Fatalf("draw %d differs between equally seeded pools (-a +b):\n%s", i, diff)
		}
	}
}

func TestNext_DrawsVary(t *testing.T) {
	pool := NewSeededPool(1)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := pool.Next()
		seen[id.UserAgent+id.Timezone+id.Locale] = true
	}
	assert.Greater(t, len(seen), 10)
}

func TestNext_LanguagesAreNotShared(t *testing.T) {
	pool := NewSeededPool(3)
	id := pool.Next()
	id.Languages[0] = "xx-XX"
	for _, l := range locales {
		assert.NotEqual(t, "xx-XX", l.Languages[0])
	}
}

func TestNext_ConcurrentUse(t *testing.T) {
	pool := NewPool(nil)
	var wg sync.WaitGroup
	out := make(chan schemas.Identity, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				out <- pool.Next()
			}
		}()
	}
	wg.Wait()
	close(out)
	n := 0
	for id := range out {
		assert.NotEmpty(t, id.UserAgent)
		n++
	}
	assert.Equal(t, 64, n)
}

func TestAcceptLanguage(t *testing.T) {
	id := schemas.Identity{Locale: "de-DE", Languages: []string{"de-DE", "de", "en-US", "en"}}
	assert.Equal(t, "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7", id.AcceptLanguage())
}
