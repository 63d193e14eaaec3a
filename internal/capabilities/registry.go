// Package capabilities holds the placeholder capability implementations and
// the registry the dispatcher resolves them through.
package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/invopop/jsonschema"
)

// Handler runs one capability over an already authorized and paid payload.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (any, error)
	Schema() *jsonschema.Schema
}

// PayloadError is a semantic error reported by a handler about its input. It
// is distinct from a handler failing to run.
type PayloadError struct {
	Message string
}

func (e *PayloadError) Error() string { return e.Message }

func missing(field string) error {
	return &PayloadError{Message: fmt.Sprintf("Missing %q in payload", field)}
}

type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Builtin registers the four xiaobei capabilities. rng drives chat reply
// selection; pass a seeded source for deterministic replies.
func Builtin(rng *rand.Rand) *Registry {
	r := NewRegistry()
	r.Register("translate", Translate{})
	r.Register("code-review", CodeReview{})
	r.Register("summarize", Summarize{})
	r.Register("chat", NewChat(rng))
	return r
}

func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Schemas returns the payload schema of every registered capability.
func (r *Registry) Schemas() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(r.handlers))
	for name, h := range r.handlers {
		out[name] = h.Schema()
	}
	return out
}

func reflectSchema[T any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(new(T))
}

// decodePayload treats an absent or null payload as an empty object.
func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &PayloadError{Message: fmt.Sprintf("invalid payload: %v", err)}
	}
	return nil
}
