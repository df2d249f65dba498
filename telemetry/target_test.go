package telemetry

import (
	"testing"
)

func TestQueryTarget(t *testing.T) {
	credential, _ := NewCredential("my key/1")

	tests := []struct {
		name     string
		base     string
		deviceID string
		pass     bool
		want     string
	}{
		{"default", DefaultBaseURL, "device-1", true, "wss://api.scadable.com/?token=my+key%2F1&deviceid=device-1"},
		{"path", "wss://stream.scadable.com/ws/live", "device-1", true, "wss://stream.scadable.com/ws/live?token=my+key%2F1&deviceid=device-1"},
		{"encoded device", "ws://localhost:8080", "dev&1=2", true, "ws://localhost:8080/?token=my+key%2F1&deviceid=dev%261%3D2"},
		{"existing query kept", "wss://host/ws?region=eu&token=old", "d", true, "wss://host/ws?region=eu&token=my+key%2F1&deviceid=d"},
		{"http", "http://127.0.0.1:1234", "d", true, "http://127.0.0.1:1234/?token=my+key%2F1&deviceid=d"},
		{"no scheme", "api.scadable.com", "d", false, ""},
		{"bad scheme", "ftp://api.scadable.com", "d", false, ""},
		{"unparsable", "::not a url", "d", false, ""},
		{"no host", "wss://", "d", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QueryTarget(tt.base, credential, tt.deviceID)
			if tt.pass != (err == nil) {
				t.Fatalf("QueryTarget() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("QueryTarget() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubjectTarget(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		token string
		pass  bool
		want  string
	}{
		{"with token", DefaultSubjectBaseURL, "abc", true, "wss://socket.scadable.com/?subject=devices.dev-1.telemetry&token=abc"},
		{"blank token omitted", DefaultSubjectBaseURL, "  ", true, "wss://socket.scadable.com/?subject=devices.dev-1.telemetry"},
		{"trailing slash", "wss://socket.scadable.com/", "abc", true, "wss://socket.scadable.com/?subject=devices.dev-1.telemetry&token=abc"},
		{"invalid base", "socket", "abc", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SubjectTarget(tt.base, Credential{token: tt.token}, "dev-1")
			if tt.pass != (err == nil) {
				t.Fatalf("SubjectTarget() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SubjectTarget() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryTarget_Deterministic(t *testing.T) {
	credential, _ := NewCredential("token")
	first, _ := QueryTarget(DefaultBaseURL, credential, "device")
	for range 10 {
		if got, _ := QueryTarget(DefaultBaseURL, credential, "device"); got != first {
			t.Fatalf("QueryTarget() = %q, want %q", got, first)
		}
	}
}
