package telemetry

import (
	"log/slog"
	"net/url"
)

var _ Dialer = LoggingDialer{}

// LoggingDialer logs every connection made by Next and every event it reports, except messages, which are
// logged at debug level. Tokens are redacted from logged targets.
type LoggingDialer struct {
	Next   Dialer
	Logger *slog.Logger
}

func (l LoggingDialer) Dial(target string, events Events) (Conn, error) {
	logger := l.Logger.With("target", RedactTarget(target))
	logger.Info("dialing")
	conn, err := l.Next.Dial(target, Events{
		Open: func() {
			logger.Info("connection open")
			events.Open()
		},
		Message: func(data string) {
			logger.Debug("message received", "size", len(data))
			events.Message(data)
		},
		Error: func(err error) {
			logger.Warn("connection failed", "err", err)
			events.Error(err)
		},
		Close: func() {
			logger.Info("connection closed")
			events.Close()
		},
	})
	if err != nil {
		logger.Warn("dial failed", "err", err)
	}
	return conn, err
}

// RedactTarget masks the token query parameter of a connection URL.
func RedactTarget(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "<invalid>"
	}
	query := u.Query()
	if !query.Has("token") {
		return target
	}
	query.Set("token", "redacted")
	u.RawQuery = query.Encode()
	return u.String()
}
