package browser

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// identityScript publishes the identity to evasions.js ahead of any page script.
func identityScript(id schemas.Identity) (string, error) {
	payload, err := json.Marshal(struct {
		Platform  string   `json:"platform"`
		Languages []string `json:"languages"`
		Touch     bool     `json:"touch"`
	}{id.Platform, id.Languages, id.Touch})
	if err != nil {
		return "", err
	}
	return "window.__hostkeepIdentity = " + string(payload) + ";", nil
}

// ApplyIdentity builds the CDP actions that make the tab present id: user agent and
// client hints, viewport, touch, timezone, locale, Accept-Language and the navigator patches.
func ApplyIdentity(id schemas.Identity, logger *zap.Logger) (chromedp.Tasks, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser identity",
		zap.String("user_agent", id.UserAgent),
		zap.String("platform", id.Platform),
		zap.String("timezone", id.Timezone),
	)

	preamble, err := identityScript(id)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	script := preamble + "\n" + evasionsScript

	scale := id.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}
	acceptLanguage := id.AcceptLanguage()

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(id.UserAgent).
			WithPlatform(id.Platform).
			WithAcceptLanguage(acceptLanguage),
		emulation.SetDeviceMetricsOverride(id.Viewport.Width, id.Viewport.Height, scale, isMobile(id)),
		emulation.SetTouchEmulationEnabled(id.Touch),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			if err != nil {
				return fmt.Errorf("inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if id.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(id.Timezone))
	}
	if id.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(id.Locale))
	}
	if acceptLanguage != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLanguage}))
	}
	return tasks, nil
}

func isMobile(id schemas.Identity) bool {
	ua := strings.ToLower(id.UserAgent)
	return id.Touch && (strings.Contains(ua, "mobile") || strings.Contains(ua, "android"))
}
