package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scadable/telemetry-go/telemetry"
	"github.com/scadable/telemetry-go/telemetry/telemetrytest"
)

func TestHealth(t *testing.T) {
	credential, _ := telemetry.NewCredential("secret")
	dialer := &telemetrytest.Dialer{}
	s, err := telemetry.NewSession(credential, "device-1", telemetry.WithDialer(dialer))
	if err != nil {
		t.Fatal(err)
	}
	p := Handler(s)

	check := func(want int) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		resp := httptest.NewRecorder()
		p.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Errorf("got %v want %v", resp.Code, want)
		}
	}

	check(http.StatusServiceUnavailable)

	s.Connect()
	check(http.StatusServiceUnavailable)

	dialer.Last().Open()
	check(http.StatusOK)

	dialer.Last().Drop()
	check(http.StatusServiceUnavailable)
}
