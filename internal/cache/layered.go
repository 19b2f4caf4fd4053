package cache

import (
	"encoding/json"
	"log"
	"time"
)

// Backend is a durable byte store with absolute expiry times.
type Backend interface {
	GetCacheEntry(namespace, key string) (value []byte, expires time.Time, found bool, err error)
	PutCacheEntry(namespace, key string, value []byte, expires time.Time) error
	DeleteCacheEntry(namespace, key string) error
}

// Layered fronts a durable Backend with a Memory store. Values are JSON
// encoded in the backend; backend errors degrade to cache misses.
type Layered[V any] struct {
	mem       *Memory[V]
	backend   Backend
	namespace string
	now       func() time.Time
}

// NewLayered creates a store that persists entries under namespace.
func NewLayered[V any](backend Backend, namespace string) *Layered[V] {
	return &Layered[V]{
		mem:       NewMemory[V](),
		backend:   backend,
		namespace: namespace,
		now:       time.Now,
	}
}

// WithClock replaces the time source of both tiers; used by tests.
func (l *Layered[V]) WithClock(now func() time.Time) *Layered[V] {
	l.now = now
	l.mem.WithClock(now)
	return l
}

// Get checks memory first, then the backend. Expired backend rows are
// deleted on read.
func (l *Layered[V]) Get(key string) (V, bool) {
	if v, ok := l.mem.Get(key); ok {
		return v, true
	}

	var zero V
	data, expires, found, err := l.backend.GetCacheEntry(l.namespace, key)
	if err != nil {
		log.Printf("Cache backend read failed for %s/%s: %v", l.namespace, key, err)
		return zero, false
	}
	if !found {
		return zero, false
	}
	if !expires.IsZero() && !l.now().Before(expires) {
		if err := l.backend.DeleteCacheEntry(l.namespace, key); err != nil {
			log.Printf("Cache backend evict failed for %s/%s: %v", l.namespace, key, err)
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		log.Printf("Cache entry %s/%s is corrupt, dropping: %v", l.namespace, key, err)
		if err := l.backend.DeleteCacheEntry(l.namespace, key); err != nil {
			log.Printf("Cache backend evict failed for %s/%s: %v", l.namespace, key, err)
		}
		return zero, false
	}
	l.mem.setUntil(key, v, expires)
	return v, true
}

// Set writes through to both tiers.
func (l *Layered[V]) Set(key string, value V, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = l.now().Add(ttl)
	}
	l.mem.setUntil(key, value, expires)

	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("Cache entry %s/%s not persisted: %v", l.namespace, key, err)
		return
	}
	if err := l.backend.PutCacheEntry(l.namespace, key, data, expires); err != nil {
		log.Printf("Cache backend write failed for %s/%s: %v", l.namespace, key, err)
	}
}

// Delete removes key from both tiers.
func (l *Layered[V]) Delete(key string) {
	l.mem.Delete(key)
	if err := l.backend.DeleteCacheEntry(l.namespace, key); err != nil {
		log.Printf("Cache backend delete failed for %s/%s: %v", l.namespace, key, err)
	}
}
