package health

import (
	"net/http"
)

// Stream reports whether a telemetry stream is up.
type Stream interface {
	IsConnected() bool
}

// Handler answers 200 while the stream is connected and 503 otherwise.
func Handler(stream Stream) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !stream.IsConnected() {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}
