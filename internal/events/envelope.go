// Package events carries wizard presentation events to their consumers:
// WebSocket clients through the in-process Bus and external subscribers
// through NATS.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
)

// Envelope captures transport metadata for a wizard event.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeOption customizes the generated envelope (useful in tests).
type EnvelopeOption func(*Envelope)

// WithEventID overrides the automatically generated event id.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

var (
	errMissingAggregate = errors.New("events: session id is required")
	errMissingKind      = errors.New("events: event kind is required")
	nowFunc             = time.Now
)

// EventType returns the versioned type name of a wizard event kind.
func EventType(kind wizard.EventKind) string {
	return "wizard." + string(kind) + ".v1"
}

// NewEnvelope wraps evt. The aggregate is the session id.
func NewEnvelope(evt wizard.Event, opts ...EnvelopeOption) (Envelope, error) {
	if strings.TrimSpace(evt.SessionID) == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt.Kind == "" {
		return Envelope{}, errMissingKind
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload: %w", err)
	}
	ts := evt.At
	if ts.IsZero() {
		ts = nowFunc()
	}
	env := Envelope{
		EventID:         uuid.New(),
		EventType:       EventType(evt.Kind),
		Aggregate:       evt.SessionID,
		TimestampMicros: ts.UTC().UnixMicro(),
		Payload:         payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

// Decode unmarshals the payload back into a wizard event.
func (e Envelope) Decode() (wizard.Event, error) {
	var evt wizard.Event
	if err := json.Unmarshal(e.Payload, &evt); err != nil {
		return wizard.Event{}, fmt.Errorf("events: decode payload: %w", err)
	}
	return evt, nil
}
