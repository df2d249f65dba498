package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidSession    = errors.New("invalid session")
)

var _ slog.LogValuer = Credential{}

// Credential holds the API token used to authenticate a stream. It is immutable and may back any number of Sessions.
type Credential struct {
	token string
}

// NewCredential returns a Credential for token. An empty token returns an error wrapping ErrInvalidCredential.
func NewCredential(token string) (Credential, error) {
	if token == "" {
		return Credential{}, fmt.Errorf("%w: token must be a non-empty string", ErrInvalidCredential)
	}
	return Credential{token: token}, nil
}

// Token returns the raw token.
func (c Credential) Token() string {
	return c.token
}

// Valid reports whether the Credential holds a token. The zero Credential is not valid.
func (c Credential) Valid() bool {
	return len(c.token) > 0
}

// String redacts the token.
func (c Credential) String() string {
	if !c.Valid() {
		return "<none>"
	}
	return "<redacted>"
}

func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}
