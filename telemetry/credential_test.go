package telemetry

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewCredential(t *testing.T) {
	tests := []struct {
		name  string
		token string
		pass  bool
	}{
		{"valid", "my-api-key", true},
		{"whitespace is a token", " ", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCredential(tt.token)
			if tt.pass != (err == nil) {
				t.Fatalf("NewCredential() error = %v", err)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidCredential) {
					t.Errorf("NewCredential() error = %v, want ErrInvalidCredential", err)
				}
				return
			}
			if got := c.Token(); got != tt.token {
				t.Errorf("Token() = %q, want %q", got, tt.token)
			}
			if !c.Valid() {
				t.Error("Valid() = false")
			}
		})
	}
}

func TestCredential_Redacted(t *testing.T) {
	c, err := NewCredential("secret")
	if err != nil {
		t.Fatal(err)
	}
	for _, got := range []string{c.String(), fmt.Sprint(c), c.LogValue().String()} {
		if got != "<redacted>" {
			t.Errorf("got %q, want <redacted>", got)
		}
	}
	if got := (Credential{}).String(); got != "<none>" {
		t.Errorf("zero Credential: got %q, want <none>", got)
	}
	if (Credential{}).Valid() {
		t.Error("zero Credential should not be valid")
	}
}
