package config

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

// AccountEntry is one token of the configured account list: either a parsed account or
// the reason it was skipped.
type AccountEntry struct {
	Position int // 1-based
	Account  schemas.Account
	Err      error
}

// ParseAccounts splits a whitespace separated list of identifier:secret tokens. Only the
// first colon separates the parts, so secrets may contain colons. Malformed tokens are kept
// as entries carrying an error that never includes the token text.
func ParseAccounts(raw string) []AccountEntry {
	tokens := strings.Fields(raw)
	entries := make([]AccountEntry, 0, len(tokens))
	for i, tok := range tokens {
		e := AccountEntry{Position: i + 1}
		id, secret, ok := strings.Cut(tok, ":")
		switch {
		case !ok:
			e.Err = fmt.Errorf("account #%d: expected identifier:secret", e.Position)
		case id == "":
			e.Err = fmt.Errorf("account #%d: empty identifier", e.Position)
		case secret == "":
			e.Err = fmt.Errorf("account #%d: empty secret for %s", e.Position, id)
		default:
			e.Account = schemas.Account{Identifier: id, Secret: secret}
		}
		entries = append(entries, e)
	}
	return entries
}
