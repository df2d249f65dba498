package telemetry

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the production endpoint used by QueryTarget.
	DefaultBaseURL = "wss://api.scadable.com"
	// DefaultSubjectBaseURL is the production endpoint used by SubjectTarget.
	DefaultSubjectBaseURL = "wss://socket.scadable.com"
)

// TargetFunc builds the connection URL for a device stream.
type TargetFunc func(baseURL string, credential Credential, deviceID string) (string, error)

// QueryTarget returns <base>/?token=<token>&deviceid=<deviceID>. Any other query parameters on the base URL are kept.
func QueryTarget(baseURL string, credential Credential, deviceID string) (string, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	if u.Path == "" {
		u.Path = "/"
	}
	query := u.Query()
	query.Del("token")
	query.Del("deviceid")

	parts := make([]string, 0, 3)
	if len(query) > 0 {
		parts = append(parts, query.Encode())
	}
	parts = append(parts,
		"token="+url.QueryEscape(credential.Token()),
		"deviceid="+url.QueryEscape(deviceID),
	)
	u.RawQuery = strings.Join(parts, "&")
	return u.String(), nil
}

// SubjectTarget returns <base>/?subject=devices.<deviceID>.telemetry&token=<token>. The token parameter is
// left out when the token is blank.
func SubjectTarget(baseURL string, credential Credential, deviceID string) (string, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/"
	query := "subject=" + url.QueryEscape("devices."+deviceID+".telemetry")
	if strings.TrimSpace(credential.Token()) != "" {
		query += "&token=" + url.QueryEscape(credential.Token())
	}
	u.RawQuery = query
	return u.String(), nil
}

func parseBaseURL(baseURL string) (*url.URL, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("invalid base url %q: unsupported scheme %q", baseURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", baseURL)
	}
	return u, nil
}
