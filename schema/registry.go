package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/projectpulse/ingest/core"
)

// ErrUnsupportedEvent marks a well-formed delivery whose event type has
// no registered decoder. The pipeline acknowledges and drops these.
var ErrUnsupportedEvent = errors.New("schema: unsupported event type")

// Decoder performs the strict second-tier validation for one event
// type, turning a lenient envelope into a typed event.
type Decoder interface {
	EventType() string
	Ordered() bool
	Decode(env Envelope) (core.Event, error)
}

// Registry routes envelopes to their decoder by (source, event type).
type Registry struct {
	decoders map[core.Source]map[string]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: map[core.Source]map[string]Decoder{}}
}

// DefaultRegistry wires every event type the dashboard consumes.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(core.SourceTracker, issueDecoder{op: "created"})
	registry.Register(core.SourceTracker, issueDecoder{op: "updated"})
	registry.Register(core.SourceTracker, issueDecoder{op: "deleted"})
	registry.Register(core.SourceVCS, pushDecoder{})
	registry.Register(core.SourceVCS, pullRequestDecoder{})
	return registry
}

func (r *Registry) Register(source core.Source, decoder Decoder) {
	if r.decoders == nil {
		r.decoders = map[core.Source]map[string]Decoder{}
	}
	bySource, ok := r.decoders[source]
	if !ok {
		bySource = map[string]Decoder{}
		r.decoders[source] = bySource
	}
	bySource[strings.TrimSpace(decoder.EventType())] = decoder
}

// Decode resolves and runs the decoder for env. Unknown event types
// return ErrUnsupportedEvent without touching the payload body.
func (r *Registry) Decode(env Envelope) (core.Event, error) {
	decoder, ok := r.lookup(env.Source, env.EventType)
	if !ok {
		return core.Event{}, fmt.Errorf("%w: %s %q", ErrUnsupportedEvent, env.Source, env.EventType)
	}
	event, err := decoder.Decode(env)
	if err != nil {
		return core.Event{}, err
	}
	event.Source = env.Source
	event.EventType = env.EventType
	event.EventID = env.EventID
	event.Ordered = decoder.Ordered()
	if err := event.Validate(); err != nil {
		return core.Event{}, core.MapError(err)
	}
	return event, nil
}

// Supports reports whether a decoder is registered for the event type.
func (r *Registry) Supports(source core.Source, eventType string) bool {
	_, ok := r.lookup(source, eventType)
	return ok
}

func (r *Registry) lookup(source core.Source, eventType string) (Decoder, bool) {
	if r == nil || len(r.decoders) == 0 {
		return nil, false
	}
	bySource, ok := r.decoders[source]
	if !ok {
		return nil, false
	}
	decoder, ok := bySource[strings.TrimSpace(eventType)]
	return decoder, ok
}
