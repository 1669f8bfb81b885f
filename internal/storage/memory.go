package storage

import (
	"context"
	"sync"
)

type memorySession struct {
	values       map[string][]byte
	interactions []Interaction
}

// MemoryBackend keeps sessions in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*memorySession)}
}

func (m *MemoryBackend) Get(_ context.Context, session, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[session]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Set(_ context.Context, session, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session(session).values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, session)
	return nil
}

func (m *MemoryBackend) AppendInteraction(_ context.Context, session string, entry Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(session)
	s.interactions = trimInteractions(append(s.interactions, entry))
	return nil
}

func (m *MemoryBackend) Interactions(_ context.Context, session string) ([]Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[session]
	if !ok {
		return nil, nil
	}
	out := make([]Interaction, len(s.interactions))
	copy(out, s.interactions)
	return out, nil
}

// session must be called with the write lock held.
func (m *MemoryBackend) session(id string) *memorySession {
	s, ok := m.sessions[id]
	if !ok {
		s = &memorySession{values: make(map[string][]byte)}
		m.sessions[id] = s
	}
	return s
}
