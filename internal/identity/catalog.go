package identity

import "github.com/xkilldash9x/hostkeep/api/schemas"

// CatalogVersion is bumped whenever any catalog below changes, so reports can tell which
// fingerprint set produced an attempt.
const CatalogVersion = "2025.10"

// agent pairs a user agent with the navigator.platform value that agrees with it.
type agent struct {
	UserAgent string
	Platform  string
}

// locale pairs a BCP 47 locale with the navigator.languages list a real browser would send.
type locale struct {
	Tag       string
	Languages []string
}

// The browser is always Chromium, so only Chromium-family desktop agents are listed;
// a Firefox agent on a Blink engine is trivially detectable.
var agents = []agent{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36 Edg/140.0.0.0", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36", "Linux x86_64"},
}

var viewports = []schemas.Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
	{Width: 1366, Height: 768},
	{Width: 1680, Height: 1050},
	{Width: 2560, Height: 1440},
}

var locales = []locale{
	{"en-US", []string{"en-US", "en"}},
	{"en-GB", []string{"en-GB", "en"}},
	{"en-CA", []string{"en-CA", "en-US", "en"}},
	{"de-DE", []string{"de-DE", "de", "en-US", "en"}},
	{"fr-FR", []string{"fr-FR", "fr", "en-US", "en"}},
	{"nl-NL", []string{"nl-NL", "nl", "en"}},
}

var timezones = []string{
	"America/Los_Angeles",
	"America/Denver",
	"America/Chicago",
	"America/New_York",
	"Europe/London",
	"Europe/Berlin",
	"Europe/Paris",
	"Europe/Amsterdam",
}

var scaleFactors = []float64{1, 1, 1.25, 1.5, 2}

// Touch-capable desktops exist but are the minority.
var touchFlags = []bool{false, false, false, true}
