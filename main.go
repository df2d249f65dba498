package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scadable/telemetry-go/internal/collector"
	"github.com/scadable/telemetry-go/internal/config"
	"github.com/scadable/telemetry-go/internal/filter"
	"github.com/scadable/telemetry-go/internal/health"
	"github.com/scadable/telemetry-go/telemetry"
	"github.com/spf13/pflag"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		_, _ = fmt.Fprintln(os.Stderr, "telemetry-tail:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	logger := cfg.Log.Logger(stderr)

	where, err := filter.New(cfg.Stream.Where)
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	credential, err := telemetry.NewCredential(cfg.Stream.Token)
	if err != nil {
		return err
	}
	session, err := telemetry.NewSession(credential, cfg.Stream.DeviceID,
		telemetry.WithBaseURL(cfg.Stream.Endpoint()),
		telemetry.WithTarget(cfg.Stream.TargetFunc()),
		telemetry.WithLogger(logger),
		telemetry.WithDialer(telemetry.LoggingDialer{
			Next: &telemetry.WebSocketDialer{
				Logger:       logger,
				PingInterval: cfg.Stream.PingInterval,
				PongTimeout:  cfg.Stream.PongTimeout,
			},
			Logger: logger,
		}),
	)
	if err != nil {
		return err
	}

	c := collector.NewCollector(logger)
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	untrack := c.Track(session)
	defer untrack()

	session.OnMessage(func(p telemetry.Payload) {
		if !where.Match(p) {
			return
		}
		printPayload(stdout, p, cfg.Stream.Field)
	})
	// the first error is kept: construction failures reach only observers registered before Attach
	streamErr := make(chan error, 1)
	session.OnError(func(msg string) {
		select {
		case streamErr <- errors.New(msg):
		default:
		}
	})
	done := make(chan telemetry.Status, 1)
	session.OnStatusChange(func(status telemetry.Status) {
		logger.Info("status changed", "status", status)
		if status == telemetry.StatusDisconnected || status == telemetry.StatusError {
			select {
			case done <- status:
			default:
			}
		}
	})

	srv := serveMetrics(cfg.Metrics.Addr, registry, session, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sub := telemetry.Attach(session, telemetry.WithHistory(cfg.Stream.History))
	defer sub.Detach()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case status := <-done:
		logger.Info("stream ended", "status", status, "messages", len(sub.History()))
		if status != telemetry.StatusError {
			return nil
		}
		// status observers run before error observers
		select {
		case err := <-streamErr:
			return err
		case <-ctx.Done():
			return telemetry.ErrConnection
		}
	}
}

func parseArgs(args []string, stderr io.Writer) (config.Config, error) {
	flagSet := pflag.NewFlagSet("telemetry-tail", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	configPath := flagSet.String("config", "", "YAML configuration file")
	token := flagSet.String("token", "", "API token")
	device := flagSet.String("device", "", "device ID")
	baseURL := flagSet.String("base-url", "", "stream endpoint (default depends on --target)")
	target := flagSet.String("target", config.TargetQuery, "URL layout: query or subject")
	where := flagSet.String("where", "", "CEL expression selecting messages, e.g. 'json.temperature > 25.0'")
	field := flagSet.String("field", "", "print only this dotted path of each message, e.g. .data.temperature")
	metricsAddr := flagSet.String("metrics-addr", "", "prometheus metrics address")
	history := flagSet.Int("history", 0, "number of recent messages to retain")
	debug := flagSet.Bool("debug", false, "log debug messages")
	flagSet.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "Usage: telemetry-tail [flags]")
		_, _ = fmt.Fprintln(stderr, "\nStreams live telemetry of one device to stdout.")
		_, _ = fmt.Fprintln(stderr)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	config.FromEnv(&cfg)

	overrides := map[string]func(){
		"token":        func() { cfg.Stream.Token = *token },
		"device":       func() { cfg.Stream.DeviceID = *device },
		"base-url":     func() { cfg.Stream.BaseURL = *baseURL },
		"target":       func() { cfg.Stream.Target = *target },
		"where":        func() { cfg.Stream.Where = *where },
		"field":        func() { cfg.Stream.Field = *field },
		"metrics-addr": func() { cfg.Metrics.Addr = *metricsAddr },
		"history":      func() { cfg.Stream.History = *history },
		"debug": func() {
			if *debug {
				cfg.Log.Level = "debug"
			}
		},
	}
	flagSet.Visit(func(f *pflag.Flag) {
		if override, ok := overrides[f.Name]; ok {
			override()
		}
	})
	return cfg, cfg.Validate()
}

func printPayload(w io.Writer, p telemetry.Payload, field string) {
	if field == "" {
		_, _ = fmt.Fprintln(w, p.String())
		return
	}
	if value, ok := p.Lookup(field); ok {
		_, _ = fmt.Fprintln(w, value)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, session *telemetry.Session, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health.Handler(session))
	srv := http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if addr == "" {
		return &srv
	}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	return &srv
}
