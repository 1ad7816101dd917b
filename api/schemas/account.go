package schemas

import (
	"go.uber.org/zap/zapcore"
)

// Account is one credential pair exercised by a run.
// The secret is never rendered by String, GoString or the zap encoder.
type Account struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"-"`
}

var _ zapcore.ObjectMarshaler = Account{}

func (a Account) String() string { return a.Identifier }

func (a Account) GoString() string {
	return `schemas.Account{Identifier:"` + a.Identifier + `", Secret:"***"}`
}

// MarshalLogObject lets accounts be logged with zap.Object without leaking the secret.
func (a Account) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("identifier", a.Identifier)
	return nil
}
