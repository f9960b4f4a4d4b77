// Package cache provides core.FetchCache implementations.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Skryldev/image-compositor/core"
)

type memEntry struct {
	f       *core.Fetched
	expires time.Time
	seq     uint64 // insertion order, for eviction when entries never expire
}

// DefaultMaxEntries bounds a Memory cache created by NewMemory.
const DefaultMaxEntries = 128

// Memory is an in-process FetchCache.  Expired entries are dropped on read
// and swept on every write; past MaxEntries the entry closest to expiry is
// evicted.
type Memory struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]memEntry
	seq        uint64
	now        func() time.Time
}

// NewMemory returns a Memory cache holding at most DefaultMaxEntries.  A zero
// ttl keeps entries until they are evicted for space.
func NewMemory(ttl time.Duration) *Memory {
	return NewMemorySize(ttl, DefaultMaxEntries)
}

// NewMemorySize is NewMemory with an explicit entry bound.  max <= 0 means
// unbounded.
func NewMemorySize(ttl time.Duration, max int) *Memory {
	return &Memory{ttl: ttl, maxEntries: max, entries: make(map[string]memEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (*core.Fetched, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.f, true, nil
}

func (m *Memory) Set(_ context.Context, key string, f *core.Fetched) error {
	now := m.now()
	var exp time.Time
	if m.ttl > 0 {
		exp = now.Add(m.ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)
	m.seq++
	m.entries[key] = memEntry{f: f, expires: exp, seq: m.seq}
	for m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		m.evictOldest()
	}
	return nil
}

func (m *Memory) sweep(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}

// evictOldest drops the earliest inserted entry, which with a fixed ttl is
// also the one closest to expiry.
func (m *Memory) evictOldest() {
	var (
		oldest string
		seq    uint64
		found  bool
	)
	for k, e := range m.entries {
		if !found || e.seq < seq {
			oldest, seq, found = k, e.seq, true
		}
	}
	delete(m.entries, oldest)
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
