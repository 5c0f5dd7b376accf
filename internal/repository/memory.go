package repository

import (
	"context"
	"sync"
	"time"

	"clash_tracker/internal/domain/invite"
	"clash_tracker/internal/domain/user"
)

type mapEntry[T any] struct {
	value   T
	expires time.Time
}

// mapStorage is a slot-keyed map with optional expiry. A zero ttl keeps
// entries until they are deleted.
type mapStorage[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]mapEntry[T]
}

func newMapStorage[T any](ttl time.Duration) *mapStorage[T] {
	return &mapStorage[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]mapEntry[T]),
	}
}

func (m *mapStorage[T]) put(slot string, v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := mapEntry[T]{value: v}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[slot] = e
}

func (m *mapStorage[T]) get(slot string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[slot]
	if !ok {
		var zero T
		return zero, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, slot)
		var zero T
		return zero, false
	}
	return e.value, true
}

func (m *mapStorage[T]) delete(slot string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, slot)
}

// SessionMapStorage keeps sessions in process memory. Used for local runs
// and tests; sessions do not survive a restart.
type SessionMapStorage struct {
	m *mapStorage[user.Session]
}

func NewSessionMapStorage(ttl time.Duration) *SessionMapStorage {
	return &SessionMapStorage{m: newMapStorage[user.Session](ttl)}
}

func (s *SessionMapStorage) Save(_ context.Context, slot string, sess user.Session) error {
	s.m.put(slot, sess)
	return nil
}

func (s *SessionMapStorage) Load(_ context.Context, slot string) (user.Session, bool, error) {
	sess, ok := s.m.get(slot)
	return sess, ok, nil
}

func (s *SessionMapStorage) Clear(_ context.Context, slot string) error {
	s.m.delete(slot)
	return nil
}

type InviteMapStorage struct {
	m *mapStorage[invite.Pending]
}

func NewInviteMapStorage(ttl time.Duration) *InviteMapStorage {
	return &InviteMapStorage{m: newMapStorage[invite.Pending](ttl)}
}

func (s *InviteMapStorage) Put(_ context.Context, slot string, p invite.Pending) error {
	s.m.put(slot, p)
	return nil
}

func (s *InviteMapStorage) Get(_ context.Context, slot string) (invite.Pending, bool, error) {
	p, ok := s.m.get(slot)
	return p, ok, nil
}

func (s *InviteMapStorage) Delete(_ context.Context, slot string) error {
	s.m.delete(slot)
	return nil
}
