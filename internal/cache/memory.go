package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// sweepInterval bounds how often Store scans for entries past their retention.
const sweepInterval = time.Minute

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// memoryStore keeps values as-is. Entries are superseded in place and dropped
// once their retention has passed.
type memoryStore struct {
	now func() time.Time

	mu        sync.Mutex
	entries   map[string]memoryEntry
	lastSweep time.Time
}

func NewMemory() Store {
	return newMemory(time.Now)
}

func newMemory(now func() time.Time) *memoryStore {
	return &memoryStore{now: now, entries: make(map[string]memoryEntry), lastSweep: now()}
}

func (s *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if stored.expired(s.now()) {
		delete(s.entries, key)
		return Entry{}, false, nil
	}
	return stored.entry, true, nil
}

func (s *memoryStore) Store(_ context.Context, key string, entry Entry, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now.UTC()
	}
	stored := memoryEntry{entry: entry}
	if retention > 0 {
		stored.expiresAt = now.Add(retention)
	}
	s.entries[key] = stored
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweep(now)
	}
	return nil
}

func (s *memoryStore) sweep(now time.Time) {
	for key, stored := range s.entries {
		if stored.expired(now) {
			delete(s.entries, key)
		}
	}
	s.lastSweep = now
}

func (s *memoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *memoryStore) Size(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	return int64(len(s.entries)), nil
}

func (s *memoryStore) Close(_ context.Context) error {
	return nil
}
