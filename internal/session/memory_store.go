package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/court-scheduler/internal/internaltypes"
)

// MemoryStore keeps the session in process memory. It backs dry runs and
// tests.
type MemoryStore struct {
	mu    sync.Mutex
	s     *Session
	saves int

	// LoadErr, when set, is returned by Load wrapped in ErrPersistence.
	LoadErr error
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return Session{}, persistence("load session", m.LoadErr)
	}
	if m.s == nil {
		return Session{}, fmt.Errorf("memory session: %w", internaltypes.ErrNotFound)
	}
	return *m.s, nil
}

func (m *MemoryStore) Save(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.State = append([]byte(nil), s.State...)
	m.s = &s
	m.saves++
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = nil
	return nil
}

// Saves reports how many times Save has been called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var _ Store = (*MemoryStore)(nil)
