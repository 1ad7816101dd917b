package schemas

// ChallengeKind classifies the anti-bot gate found on the current page.
type ChallengeKind string

const (
	ChallengeNone           ChallengeKind = "none"
	ChallengeAutoResolvable ChallengeKind = "auto_resolvable"
	ChallengeManualRequired ChallengeKind = "manual_required"
)

// ChallengeState is the resolver's view of the page. Once an attempt sees
// ChallengeManualRequired it performs no further form interaction.
type ChallengeState struct {
	Kind        ChallengeKind `json:"kind"`
	Evidence    string        `json:"evidence,omitempty"` // screenshot path
	Description string        `json:"description,omitempty"`
}

// Blocking reports whether the state still stands between the attempt and the login form.
func (c ChallengeState) Blocking() bool {
	return c.Kind != ChallengeNone && c.Kind != ""
}
