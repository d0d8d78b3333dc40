package schema

import (
	"encoding/json"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/projectpulse/ingest/core"
)

// Envelope is the lenient first tier of payload validation: enough
// structure to identify and deduplicate a delivery without trusting
// any of its domain fields yet. Raw keeps the exact bytes received.
type Envelope struct {
	Source     core.Source
	EventType  string
	EventID    string
	OccurredAt time.Time
	Raw        []byte

	fields map[string]any
}

// Fields returns the leniently decoded payload document.
func (e Envelope) Fields() map[string]any {
	return e.fields
}

// ParseEnvelope decodes the identifying fields of a delivery. Bodies
// that are not JSON objects fail with INGEST_INVALID_BODY; a missing
// event type fails validation because the delivery cannot be routed.
// A missing delivery id is tolerated and synthesized from the fields
// that make the delivery unique.
func ParseEnvelope(source core.Source, raw []byte) (Envelope, error) {
	if err := source.Validate(); err != nil {
		return Envelope{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, core.NewInvalidBodyError("schema: payload is not a JSON object")
	}

	env := Envelope{
		Source:    source,
		EventType: strings.TrimSpace(stringField(fields, "eventType")),
		EventID:   strings.TrimSpace(stringField(fields, "eventId")),
		Raw:       raw,
		fields:    fields,
	}
	if env.EventID == "" {
		env.EventID = strings.TrimSpace(stringField(fields, "deliveryId"))
	}
	if ts := stringField(fields, "occurredAt"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			env.OccurredAt = parsed
		}
	}

	if env.EventType == "" {
		return Envelope{}, core.NewInvalidPayloadError(nil, goerrors.FieldError{
			Field:   "eventType",
			Message: "event type is required",
		})
	}

	if env.EventID == "" {
		occurred := env.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now()
		}
		env.EventID = core.SynthesizeEventID(source, env.EventType, entityKeyHint(env), occurred)
	}
	return env, nil
}

func entityKeyHint(env Envelope) string {
	var hint string
	switch env.Source {
	case core.SourceTracker:
		hint = trackerEntityKeyHint(env.fields)
	case core.SourceVCS:
		hint = vcsEntityKeyHint(env.EventType, env.fields)
	}
	if hint == "" {
		hint = "unknown"
	}
	return hint
}

func stringField(fields map[string]any, key string) string {
	if len(fields) == 0 {
		return ""
	}
	if value, ok := fields[key].(string); ok {
		return value
	}
	return ""
}

func nestedMap(fields map[string]any, key string) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	if value, ok := fields[key].(map[string]any); ok {
		return value
	}
	return nil
}
