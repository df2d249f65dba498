// Package filter selects telemetry payloads with CEL expressions.
//
// Expressions see three variables:
//
//	json        the decoded object (null for raw payloads)
//	text        the message as received
//	structured  true if the message decoded into an object
//
// For example: `structured && json.temperature > 25.0`.
package filter

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/scadable/telemetry-go/telemetry"
)

// Filter is a compiled expression. The zero Filter matches everything.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// New compiles expr. An empty expression returns a Filter that matches every payload.
func New(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("json", cel.DynType),
		cel.Variable("text", cel.StringType),
		cel.Variable("structured", cel.BoolType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Match reports whether p satisfies the expression. Evaluation errors, such as a missing field, do not match.
func (f Filter) Match(p telemetry.Payload) bool {
	if !f.enabled {
		return true
	}
	var object any
	if p.IsStructured() {
		object = p.Fields()
	}
	out, _, err := f.prog.Eval(map[string]any{
		"json":       object,
		"text":       p.Raw(),
		"structured": p.IsStructured(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
