package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ristrettoStore bounds the in-process entry table by entry count. Ristretto
// cannot enumerate its keys, so the store keeps its own key index for
// DeletePrefix and Size. The index and the cache change together under mu.
type ristrettoStore struct {
	c *ristretto.Cache[string, Entry]

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewRistretto builds a store holding at most maxEntries entries.
func NewRistretto(maxEntries int64) (Store, error) {
	if maxEntries <= 0 {
		return nil, errors.New("cache: ristretto max entries must be positive")
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters:        max(maxEntries*10, 100),
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: ristretto: %w", err)
	}
	return &ristrettoStore{c: c, keys: make(map[string]struct{})}, nil
}

func (s *ristrettoStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	if entry, ok := s.c.Get(key); ok {
		return entry, true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// A Store may have landed since the first Get; only drop the index entry
	// when the cache still misses while no Store can interleave.
	entry, ok := s.c.Get(key)
	if !ok {
		delete(s.keys, key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *ristrettoStore) Store(_ context.Context, key string, entry Entry, retention time.Duration) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var accepted bool
	if retention > 0 {
		accepted = s.c.SetWithTTL(key, entry, 1, retention)
	} else {
		accepted = s.c.Set(key, entry, 1)
	}
	// Sets are applied asynchronously; wait so the next lookup observes this one.
	s.c.Wait()
	if !accepted {
		return fmt.Errorf("cache: ristretto rejected %q", key)
	}
	s.keys[key] = struct{}{}
	return nil
}

func (s *ristrettoStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.keys {
		if strings.HasPrefix(key, prefix) {
			s.c.Del(key)
			delete(s.keys, key)
		}
	}
	s.c.Wait()
	return nil
}

func (s *ristrettoStore) Size(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var size int64
	for key := range s.keys {
		if _, ok := s.c.Get(key); ok {
			size++
			continue
		}
		delete(s.keys, key)
	}
	return size, nil
}

func (s *ristrettoStore) Close(_ context.Context) error {
	s.c.Close()
	return nil
}
