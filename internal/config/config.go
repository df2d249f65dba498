package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/scadable/telemetry-go/telemetry"
	"gopkg.in/yaml.v3"
)

const (
	TargetQuery   = "query"
	TargetSubject = "subject"
)

type Config struct {
	Stream  StreamConfig  `yaml:"stream"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type StreamConfig struct {
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`
	DeviceID string `yaml:"device_id"`
	// Target selects the URL layout: "query" (token & deviceid parameters) or "subject".
	Target       string        `yaml:"target"`
	Where        string        `yaml:"where"`
	Field        string        `yaml:"field"`
	History      int           `yaml:"history"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			Target:       TargetQuery,
			History:      60,
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file on top of Default. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays TELEMETRY_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TELEMETRY_TOKEN"); v != "" {
		cfg.Stream.Token = v
	}
	if v := os.Getenv("TELEMETRY_DEVICE_ID"); v != "" {
		cfg.Stream.DeviceID = v
	}
	if v := os.Getenv("TELEMETRY_BASE_URL"); v != "" {
		cfg.Stream.BaseURL = v
	}
	if v := os.Getenv("TELEMETRY_TARGET"); v != "" {
		cfg.Stream.Target = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("TELEMETRY_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.History = n
		}
	}
	if v := os.Getenv("TELEMETRY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("TELEMETRY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Stream.Token == "" {
		errs = append(errs, errors.New("stream.token is required"))
	}
	if c.Stream.DeviceID == "" {
		errs = append(errs, errors.New("stream.device_id is required"))
	}
	if c.Stream.Target != TargetQuery && c.Stream.Target != TargetSubject {
		errs = append(errs, fmt.Errorf("stream.target: unsupported value %q", c.Stream.Target))
	}
	if err := validateBaseURL(c.Stream.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.Stream.History < 0 {
		errs = append(errs, errors.New("stream.history must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: unsupported value %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// validateBaseURL accepts an empty URL, which selects the production endpoint.
func validateBaseURL(baseURL string) error {
	if baseURL == "" {
		return nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("stream.base_url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("stream.base_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("stream.base_url: missing host")
	}
	return nil
}

// TargetFunc returns the URL builder selected by Target.
func (c StreamConfig) TargetFunc() telemetry.TargetFunc {
	if c.Target == TargetSubject {
		return telemetry.SubjectTarget
	}
	return telemetry.QueryTarget
}

// Endpoint returns BaseURL, or the production endpoint matching Target.
func (c StreamConfig) Endpoint() string {
	switch {
	case c.BaseURL != "":
		return c.BaseURL
	case c.Target == TargetSubject:
		return telemetry.DefaultSubjectBaseURL
	default:
		return telemetry.DefaultBaseURL
	}
}

// Logger returns a slog.Logger writing to w.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &opts))
	}
	return slog.New(slog.NewTextHandler(w, &opts))
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
