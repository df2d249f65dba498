package telemetry

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

var _ slog.LogValuer = Payload{}

// Payload is a decoded telemetry message: either a structured JSON object or the raw text as received.
type Payload struct {
	fields     map[string]any
	raw        string
	structured bool
}

// Decode classifies a raw message. Text holding exactly one JSON object decodes into a structured Payload;
// anything else, including JSON scalars and arrays, is kept as raw text. Decode never fails.
func Decode(raw string) Payload {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		return Payload{raw: raw}
	}
	return Payload{fields: fields, raw: raw, structured: true}
}

// IsStructured reports whether the message decoded into a JSON object.
func (p Payload) IsStructured() bool {
	return p.structured
}

// Fields returns the decoded object, or nil for raw payloads.
func (p Payload) Fields() map[string]any {
	return p.fields
}

// Raw returns the message text exactly as it was received.
func (p Payload) Raw() string {
	return p.raw
}

// Lookup returns the value at a dotted path, e.g. ".data.temperature" or "readings.0". A leading dot is optional.
// Numeric segments index into arrays. Raw payloads never match.
func (p Payload) Lookup(path string) (any, bool) {
	if !p.structured {
		return nil, false
	}
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil, false
	}
	var current any = p.fields
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[key]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// String returns canonical JSON for structured payloads and the raw text otherwise.
func (p Payload) String() string {
	if !p.structured {
		return p.raw
	}
	body, err := json.Marshal(p.fields)
	if err != nil {
		return p.raw
	}
	return string(body)
}

func (p Payload) LogValue() slog.Value {
	if p.structured {
		return slog.GroupValue(slog.Bool("structured", true), slog.Int("fields", len(p.fields)))
	}
	return slog.GroupValue(slog.Bool("structured", false), slog.Int("size", len(p.raw)))
}
