package browser

import (
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/config"
)

// AllocatorOptions translates the browser config, the attempt identity and the egress proxy
// into chromedp allocator options. proxyServer is empty for a direct connection.
func AllocatorOptions(cfg config.BrowserConfig, id schemas.Identity, proxyServer string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("enable-automation", false),
		// Every attempt gets a throwaway profile; nothing carries over between identities.
		chromedp.Flag("incognito", true),
	)

	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}

	if id.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(id.UserAgent))
	}
	if id.Viewport.Width > 0 && id.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(int(id.Viewport.Width), int(id.Viewport.Height)))
	}
	if lang := id.AcceptLanguage(); lang != "" {
		opts = append(opts, chromedp.Flag("lang", strings.SplitN(lang, ",", 2)[0]))
	}

	if proxyServer != "" {
		opts = append(opts,
			chromedp.ProxyServer(proxyServer),
			// Chrome bypasses the proxy for loopback hosts unless told otherwise.
			chromedp.Flag("proxy-bypass-list", "<-loopback>"),
		)
	}

	for _, arg := range cfg.Args {
		key, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if key == "" {
			continue
		}
		if !hasValue {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			opts = append(opts, chromedp.Flag(key, b))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}
