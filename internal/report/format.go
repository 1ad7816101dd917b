package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

const (
	glyphSuccess = "✅"
	glyphFailure = "❌"
	glyphSkipped = "⚠️"
)

// Format renders the human-readable summary: a header, one line per account in report
// order, then any skipped accounts and proxies.
func Format(rep schemas.RunReport) string {
	var b strings.Builder

	if len(rep.Results) == 0 {
		b.WriteString("Hostkeep: no accounts configured")
		if n := len(rep.Skipped); n > 0 {
			fmt.Fprintf(&b, " (%d malformed %s skipped)", n, plural(n, "entry", "entries"))
		}
		b.WriteString(".\n")
	} else {
		fmt.Fprintf(&b, "Hostkeep: %d/%d accounts logged in", rep.Succeeded(), len(rep.Results))
		if !rep.StartedAt.IsZero() && !rep.FinishedAt.IsZero() {
			fmt.Fprintf(&b, " in %s", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Second))
		}
		b.WriteString(".\n")
		for _, res := range rep.Results {
			b.WriteString(Line(res))
			b.WriteByte('\n')
		}
	}

	if len(rep.Skipped) > 0 {
		b.WriteString("Skipped:\n")
		for _, s := range rep.Skipped {
			fmt.Fprintf(&b, "%s #%d: %s\n", glyphSkipped, s.Position, s.Reason)
		}
	}
	if len(rep.SkippedProxies) > 0 {
		b.WriteString("Skipped proxies:\n")
		for _, p := range rep.SkippedProxies {
			fmt.Fprintf(&b, "%s #%d %s: %s\n", glyphSkipped, p.Position, p.Input, p.Reason)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Line renders one account: glyph, identifier, final outcome and attempt count, followed by
// the detail of the last attempt when there is one.
func Line(res schemas.AccountResult) string {
	glyph := glyphFailure
	if res.Succeeded() {
		glyph = glyphSuccess
	}
	line := fmt.Sprintf("%s %s — %s (%d/%d %s)",
		glyph, res.Account.Identifier, res.FinalOutcome,
		res.AttemptsTaken, res.MaxAttempts, plural(res.MaxAttempts, "attempt", "attempts"))
	if last, ok := res.LastAttempt(); ok && last.Detail != "" && !res.Succeeded() {
		line += ": " + last.Detail
	}
	return line
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
