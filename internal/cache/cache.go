package cache

import (
	"context"
	"sync"
	"time"
)

// Store is a key/value cache whose entries expire after the TTL given at write
// time. A read never returns an expired entry.
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry[T any] struct {
	value  T
	expiry time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !now.Before(e.expiry)
}

type Memory[T any] struct {
	Clock func() time.Time

	mu      sync.RWMutex
	entries map[string]entry[T]
}

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{Clock: time.Now, entries: map[string]entry[T]{}}
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	now := m.now()
	m.mu.RLock()
	item, ok := m.entries[key]
	m.mu.RUnlock()

	var zero T
	if !ok {
		return zero, false, nil
	}
	if item.expired(now) {
		m.mu.Lock()
		if current, ok := m.entries[key]; ok && current.expired(now) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return zero, false, nil
	}
	return item.value, true, nil
}

func (m *Memory[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string]entry[T]{}
	}
	m.entries[key] = entry[T]{value: value, expiry: m.now().Add(ttl)}
	return nil
}

func (m *Memory[T]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len reports stored entries, including ones that have expired but were not
// read since.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory[T]) now() time.Time {
	if m.Clock == nil {
		return time.Now()
	}
	return m.Clock()
}
