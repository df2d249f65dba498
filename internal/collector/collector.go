package collector

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/scadable/telemetry-go/telemetry"
)

// Session is the part of a telemetry.Session the Collector observes.
type Session interface {
	DeviceID() string
	IsConnected() bool
	OnMessage(func(telemetry.Payload)) func()
	OnError(func(string)) func()
	OnStatusChange(func(telemetry.Status)) func()
}

// Collector exports the activity of tracked sessions, plus every numeric field of the latest structured payload.
type Collector struct {
	Logger      *slog.Logger
	messages    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	connected   *prometheus.GaugeVec
	fields      *prometheus.GaugeVec
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{
		Logger: logger,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "messages received, by payload kind",
		}, []string{"device", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "connection errors",
		}, []string{"device"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "stream",
			Name:      "status_changes_total",
			Help:      "connection status transitions, by new status",
		}, []string{"device", "status"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "telemetry",
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 if the stream is connected",
		}, []string{"device"}),
		fields: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "telemetry",
			Subsystem: "device",
			Name:      "field",
			Help:      "latest value of each numeric payload field",
		}, []string{"device", "field"}),
	}
}

// Track starts observing s. The returned function stops it and removes the session's series.
func (c *Collector) Track(s Session) (untrack func()) {
	device := s.DeviceID()
	c.connected.WithLabelValues(device).Set(boolToFloat(s.IsConnected()))

	unsubscribe := []func(){
		s.OnMessage(func(p telemetry.Payload) {
			if !p.IsStructured() {
				c.messages.WithLabelValues(device, "raw").Inc()
				return
			}
			c.messages.WithLabelValues(device, "structured").Inc()
			// fields missing from this payload are no longer exported
			c.fields.DeletePartialMatch(prometheus.Labels{"device": device})
			for _, f := range numericFields("", p.Fields()) {
				c.fields.WithLabelValues(device, f.name).Set(f.value)
			}
		}),
		s.OnError(func(msg string) {
			c.errors.WithLabelValues(device).Inc()
			c.Logger.Debug("stream error", "device", device, "err", msg)
		}),
		s.OnStatusChange(func(status telemetry.Status) {
			c.transitions.WithLabelValues(device, status.String()).Inc()
			c.connected.WithLabelValues(device).Set(boolToFloat(status == telemetry.StatusConnected))
		}),
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, f := range unsubscribe {
				f()
			}
			labels := prometheus.Labels{"device": device}
			c.messages.DeletePartialMatch(labels)
			c.errors.DeletePartialMatch(labels)
			c.transitions.DeletePartialMatch(labels)
			c.connected.DeletePartialMatch(labels)
			c.fields.DeletePartialMatch(labels)
		})
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.messages.Describe(ch)
	c.errors.Describe(ch)
	c.transitions.Describe(ch)
	c.connected.Describe(ch)
	c.fields.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.messages.Collect(ch)
	c.errors.Collect(ch)
	c.transitions.Collect(ch)
	c.connected.Collect(ch)
	c.fields.Collect(ch)
}

type field struct {
	name  string
	value float64
}

// numericFields flattens nested objects into dotted names and keeps numbers and booleans.
func numericFields(prefix string, fields map[string]any) []field {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []field
	for _, key := range keys {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := fields[key].(type) {
		case float64:
			out = append(out, field{name: name, value: v})
		case bool:
			out = append(out, field{name: name, value: boolToFloat(v)})
		case map[string]any:
			out = append(out, numericFields(name, v)...)
		}
	}
	return out
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
