package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Store is a key-value store with per-entry expiry. Expired entries are
// never returned and are evicted lazily when read.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
}

// Memory is an in-process Store. Keys are spread over independently locked
// shards so unrelated keys rarely contend.
type Memory[V any] struct {
	shards [shardCount]shard[V]
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory[V any]() *Memory[V] {
	m := &Memory[V]{now: time.Now}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]entry[V])
	}
	return m
}

// WithClock replaces the time source; used by tests.
func (m *Memory[V]) WithClock(now func() time.Time) *Memory[V] {
	m.now = now
	return m
}

func (m *Memory[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

// Get returns the live value for key, evicting it if it has expired.
func (m *Memory[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(s.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key. A ttl <= 0 means the entry never expires.
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	s := m.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, expires: expires}
	s.mu.Unlock()
}

// setUntil stores value with an absolute expiry.
func (m *Memory[V]) setUntil(key string, value V, expires time.Time) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, expires: expires}
	s.mu.Unlock()
}

// Delete removes key.
func (m *Memory[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Purge drops every expired entry and returns how many were removed.
func (m *Memory[V]) Purge() int {
	now := m.now()
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if !e.expires.IsZero() && !now.Before(e.expires) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
