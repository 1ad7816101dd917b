package schemas

import (
	"time"
)

// OutcomeKind is the terminal classification of one login attempt.
type OutcomeKind string

const (
	OutcomeSuccess            OutcomeKind = "success"
	OutcomeCredentialRejected OutcomeKind = "credential_rejected"
	OutcomeChallengeBlocked   OutcomeKind = "challenge_blocked"
	OutcomeTimeout            OutcomeKind = "timeout"
	OutcomeUnknownError       OutcomeKind = "unknown_error"
)

// AttemptRecord is the finalized history entry of one LoginAttempt.
type AttemptRecord struct {
	Account   Account         `json:"-"`
	Index     int             `json:"index"` // 1-based, strictly increasing per account
	Identity  Identity        `json:"identity"`
	Proxy     *ProxyEndpoint  `json:"proxy,omitempty"`
	Outcome   OutcomeKind     `json:"outcome"`
	Detail    string          `json:"detail,omitempty"`
	Challenge *ChallengeState `json:"challenge,omitempty"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration"`
}

// AccountResult is the terminal classification of one account's retry sequence.
type AccountResult struct {
	Account       Account         `json:"account"`
	FinalOutcome  OutcomeKind     `json:"finalOutcome"`
	AttemptsTaken int             `json:"attemptsTaken"`
	MaxAttempts   int             `json:"maxAttempts"`
	History       []AttemptRecord `json:"history"`
}

// NewAccountResult derives the terminal outcome from an attempt history: success if any
// attempt succeeded, otherwise the outcome of the last attempt. An empty history (the run was
// cancelled before the first attempt) is reported as unknown_error.
func NewAccountResult(account Account, maxAttempts int, history []AttemptRecord) AccountResult {
	res := AccountResult{
		Account:       account,
		AttemptsTaken: len(history),
		MaxAttempts:   maxAttempts,
		History:       history,
		FinalOutcome:  OutcomeUnknownError,
	}
	for _, rec := range history {
		if rec.Outcome == OutcomeSuccess {
			res.FinalOutcome = OutcomeSuccess
			return res
		}
	}
	if n := len(history); n > 0 {
		res.FinalOutcome = history[n-1].Outcome
	}
	return res
}

// Succeeded reports whether the account ended in success.
func (r AccountResult) Succeeded() bool { return r.FinalOutcome == OutcomeSuccess }

// LastAttempt returns the final history entry, if any.
func (r AccountResult) LastAttempt() (AttemptRecord, bool) {
	if len(r.History) == 0 {
		return AttemptRecord{}, false
	}
	return r.History[len(r.History)-1], true
}

// SkippedEntry is a configured account token that could not be parsed.
type SkippedEntry struct {
	Position int    `json:"position"` // 1-based position in the configured list
	Reason   string `json:"reason"`
}

// RunReport is the whole batch. Results preserve the configured account order.
type RunReport struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Results    []AccountResult `json:"results"`
	Skipped    []SkippedEntry  `json:"skipped,omitempty"`

	// SkippedProxies lists configured proxies excluded because they could not be parsed.
	SkippedProxies []SkippedProxy `json:"skippedProxies,omitempty"`
}

// Succeeded counts accounts that ended in success.
func (r RunReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Succeeded() {
			n++
		}
	}
	return n
}
