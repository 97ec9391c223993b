package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is a single-process store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, Session]
	now   func() time.Time
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, Session](size, nil, ttl),
		now:   time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s, ok := m.cache.Get(id)
	if !ok {
		return nil, nil
	}
	if !s.ExpiresAt.After(m.now()) {
		m.cache.Remove(id)
		return nil, nil
	}
	if s.Handshake != nil {
		hs := *s.Handshake
		s.Handshake = &hs
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session: missing id")
	}
	if !s.ExpiresAt.After(m.now()) {
		m.cache.Remove(s.ID)
		return nil
	}
	cp := *s
	if s.Handshake != nil {
		hs := *s.Handshake
		cp.Handshake = &hs
	}
	m.mu.Lock()
	m.cache.Add(s.ID, cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Remove(id)
	return nil
}

func (m *MemoryStore) TakeHandshake(_ context.Context, id string) (*Handshake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache.Peek(id)
	if !ok || s.Handshake == nil || !s.ExpiresAt.After(m.now()) {
		return nil, nil
	}
	hs := s.Handshake
	s.Handshake = nil
	m.cache.Add(id, s)
	return hs, nil
}
