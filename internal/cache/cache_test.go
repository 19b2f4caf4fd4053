package cache

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory[string]()
	if _, ok := m.Get("k"); ok {
		t.Error("expected miss on empty store")
	}
	m.Set("k", "v", time.Hour)
	if v, ok := m.Get("k"); !ok || v != "v" {
		t.Errorf("expected hit 'v', got %q, %v", v, ok)
	}
	m.Delete("k")
	if _, ok := m.Get("k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestMemoryLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory[int]().WithClock(clock.Now)
	m.Set("k", 1, 24*time.Hour)

	clock.Advance(23 * time.Hour)
	if _, ok := m.Get("k"); !ok {
		t.Error("expected hit before ttl")
	}

	clock.Advance(time.Hour)
	if _, ok := m.Get("k"); ok {
		t.Error("expected miss at ttl")
	}
	if m.Len() != 0 {
		t.Errorf("expected expired entry to be evicted on read, len=%d", m.Len())
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory[int]().WithClock(clock.Now)
	m.Set("k", 1, 0)
	clock.Advance(1000 * time.Hour)
	if _, ok := m.Get("k"); !ok {
		t.Error("expected entry without ttl to persist")
	}
}

func TestMemoryPurge(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory[int]().WithClock(clock.Now)
	m.Set("short", 1, time.Minute)
	m.Set("long", 2, time.Hour)
	clock.Advance(2 * time.Minute)

	if n := m.Purge(); n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 remaining, got %d", m.Len())
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory[int]()
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%20)
				m.Set(key, w, time.Minute)
				m.Get(key)
				if i%50 == 0 {
					m.Delete(key)
				}
			}
		}(w)
	}
	wg.Wait()
	if m.Len() > 20 {
		t.Errorf("expected at most 20 keys, got %d", m.Len())
	}
}

type mapBackend struct {
	mu      sync.Mutex
	rows      map[string]backendRow
	deletes   int
	deleteErr error
}

type backendRow struct {
	value   []byte
	expires time.Time
}

func newMapBackend() *mapBackend {
	return &mapBackend{rows: make(map[string]backendRow)}
}

func (b *mapBackend) GetCacheEntry(ns, key string) ([]byte, time.Time, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[ns+"/"+key]
	return r.value, r.expires, ok, nil
}

func (b *mapBackend) PutCacheEntry(ns, key string, value []byte, expires time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[ns+"/"+key] = backendRow{value: value, expires: expires}
	return nil
}

func (b *mapBackend) DeleteCacheEntry(ns, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes++
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.rows, ns+"/"+key)
	return nil
}

type asset struct {
	URL string `json:"url"`
}

func TestLayeredSurvivesRestart(t *testing.T) {
	backend := newMapBackend()
	clock := newFakeClock()

	first := NewLayered[asset](backend, "images").WithClock(clock.Now)
	first.Set("k", asset{URL: "https://img/1.png"}, 24*time.Hour)

	// A fresh process has an empty memory tier but the same backend
	second := NewLayered[asset](backend, "images").WithClock(clock.Now)
	v, ok := second.Get("k")
	if !ok || v.URL != "https://img/1.png" {
		t.Fatalf("expected backend hit, got %+v, %v", v, ok)
	}
}

func TestLayeredEvictsExpiredBackendRows(t *testing.T) {
	backend := newMapBackend()
	clock := newFakeClock()

	NewLayered[asset](backend, "images").WithClock(clock.Now).Set("k", asset{URL: "u"}, time.Hour)
	clock.Advance(2 * time.Hour)

	fresh := NewLayered[asset](backend, "images").WithClock(clock.Now)
	if _, ok := fresh.Get("k"); ok {
		t.Error("expected expired backend row to miss")
	}
	if len(backend.rows) != 0 {
		t.Errorf("expected expired row to be deleted, %d rows left", len(backend.rows))
	}
}

func TestLayeredNamespacesAreIsolated(t *testing.T) {
	backend := newMapBackend()
	a := NewLayered[asset](backend, "a")
	b := NewLayered[asset](backend, "b")
	a.Set("k", asset{URL: "a"}, time.Hour)
	if _, ok := b.Get("k"); ok {
		t.Error("expected namespaces not to share keys")
	}
}

func TestLayeredCorruptRowIsDropped(t *testing.T) {
	backend := newMapBackend()
	backend.PutCacheEntry("images", "k", []byte("{not json"), time.Time{})

	l := NewLayered[asset](backend, "images")
	if _, ok := l.Get("k"); ok {
		t.Error("expected corrupt row to miss")
	}
	if backend.deletes != 1 {
		t.Errorf("expected corrupt row to be deleted, deletes=%d", backend.deletes)
	}
}

func TestLayeredCorruptRowDeleteFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })

	backend := newMapBackend()
	backend.deleteErr = errors.New("database is locked")
	backend.PutCacheEntry("images", "k", []byte("{not json"), time.Time{})

	if _, ok := NewLayered[asset](backend, "images").Get("k"); ok {
		t.Error("expected corrupt row to miss")
	}
	if !strings.Contains(buf.String(), "database is locked") {
		t.Errorf("expected delete failure in log, got %q", buf.String())
	}
}
