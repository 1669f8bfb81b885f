// Package storage persists per-session wizard state as namespaced JSON values
// plus a capped interaction log. Backends work on raw bytes; Store adds the
// JSON encoding and binds a session id.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxInteractions is how many interaction entries a session keeps; older ones are evicted first.
const MaxInteractions = 50

// ErrNotFound is returned when a key has never been written for the session.
var ErrNotFound = errors.New("storage: key not found")

// Interaction is one entry of the visitor interaction log.
type Interaction struct {
	Action    string            `json:"action" dynamodbav:"action"`
	Details   map[string]string `json:"details,omitempty" dynamodbav:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp" dynamodbav:"timestamp"`
	URL       string            `json:"url,omitempty" dynamodbav:"url,omitempty"`
}

// Backend is implemented by every storage driver.
type Backend interface {
	Get(ctx context.Context, session, key string) ([]byte, error)
	Set(ctx context.Context, session, key string, value []byte) error
	// Clear removes every key and the interaction log of the session.
	Clear(ctx context.Context, session string) error
	// AppendInteraction adds an entry and trims the log to MaxInteractions.
	AppendInteraction(ctx context.Context, session string, entry Interaction) error
	// Interactions returns the log oldest first.
	Interactions(ctx context.Context, session string) ([]Interaction, error)
}

// Store is a Backend bound to one session that encodes values as JSON.
type Store struct {
	backend Backend
	session string
}

// NewStore binds backend to session.
func NewStore(backend Backend, session string) *Store {
	if backend == nil {
		panic("storage: backend cannot be nil")
	}
	return &Store{backend: backend, session: session}
}

// Session returns the bound session id.
func (s *Store) Session() string {
	return s.session
}

// Get decodes the value stored under key into dst. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, key string, dst any) error {
	raw, err := s.backend.Get(ctx, s.session, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return nil
}

// Set encodes value as JSON and stores it under key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.backend.Set(ctx, s.session, key, raw)
}

// Clear drops everything stored for the session.
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx, s.session)
}

// AppendInteraction records one entry in the capped log.
func (s *Store) AppendInteraction(ctx context.Context, entry Interaction) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.backend.AppendInteraction(ctx, s.session, entry)
}

// Interactions returns the log oldest first.
func (s *Store) Interactions(ctx context.Context) ([]Interaction, error) {
	return s.backend.Interactions(ctx, s.session)
}

// Summarize counts log entries per action.
func Summarize(entries []Interaction) map[string]int {
	summary := make(map[string]int, len(entries))
	for _, e := range entries {
		summary[e.Action]++
	}
	return summary
}

// trimInteractions keeps the newest MaxInteractions entries.
func trimInteractions(entries []Interaction) []Interaction {
	if len(entries) <= MaxInteractions {
		return entries
	}
	return entries[len(entries)-MaxInteractions:]
}
