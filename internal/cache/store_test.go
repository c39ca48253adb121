package cache

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestMemoryStoreLookup(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	value := &site{ID: 1}
	entry := Entry{Key: "site:1", Value: value, StoredAt: time.Now().UTC()}
	if err := store.Store(ctx, "site:1", entry, 0); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := store.Lookup(ctx, "site:1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.Value != value || !got.StoredAt.Equal(entry.StoredAt) {
		t.Fatalf("unexpected entry: %#v", got)
	}

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}

	if err := store.DeletePrefix(ctx, "site:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if _, ok, _ := store.Lookup(ctx, "site:1"); ok {
		t.Fatalf("expected delete to remove key")
	}

	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMemoryStoreStampsMissingTime(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	before := time.Now().UTC()
	if err := store.Store(ctx, "k", Entry{Key: "k"}, 0); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := store.Lookup(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if got.StoredAt.Before(before) {
		t.Fatalf("expected stored time to be stamped, got %v", got.StoredAt)
	}
	if got.Value != nil {
		t.Fatalf("expected nil value to survive, got %#v", got.Value)
	}
}

func TestMemoryStoreDropsEntriesPastRetention(t *testing.T) {
	clock := newFakeClock()
	store := newMemory(clock.Now)
	ctx := context.Background()

	if err := store.Store(ctx, "site:1", Entry{Key: "site:1", Value: 1}, time.Minute); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Store(ctx, "pinned", Entry{Key: "pinned", Value: 2}, 0); err != nil {
		t.Fatalf("store: %v", err)
	}

	clock.Advance(time.Minute)
	if _, ok, _ := store.Lookup(ctx, "site:1"); !ok {
		t.Fatalf("expected entry to be kept for its full retention")
	}

	clock.Advance(time.Second)
	if _, ok, _ := store.Lookup(ctx, "site:1"); ok {
		t.Fatalf("expected entry past retention to be dropped")
	}
	if _, ok, _ := store.Lookup(ctx, "pinned"); !ok {
		t.Fatalf("expected entry without retention to be kept")
	}
	if size, _ := store.Size(ctx); size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}
}

func TestMemoryStoreSweepsUnreadEntries(t *testing.T) {
	clock := newFakeClock()
	store := newMemory(clock.Now)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		key := SiteKey(i)
		if err := store.Store(ctx, key, Entry{Key: key, Value: i}, 10*time.Second); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}

	clock.Advance(sweepInterval)
	if err := store.Store(ctx, SiteKey(1000), Entry{Key: SiteKey(1000)}, 10*time.Second); err != nil {
		t.Fatalf("store: %v", err)
	}

	store.mu.Lock()
	held := len(store.entries)
	store.mu.Unlock()
	if held != 1 {
		t.Fatalf("expected expired entries to be swept on store, %d held", held)
	}
}

func TestRistrettoStore(t *testing.T) {
	if _, err := NewRistretto(0); err == nil {
		t.Fatalf("expected error for zero max entries")
	}

	store, err := NewRistretto(1000)
	if err != nil {
		t.Fatalf("new ristretto: %v", err)
	}
	ctx := context.Background()
	defer store.Close(ctx)

	values := map[string]*site{}
	for i, key := range []string{"site:1", "site:2", "cron-checks:1"} {
		values[key] = &site{ID: i}
		entry := Entry{Key: key, Value: values[key], StoredAt: time.Now().UTC()}
		if err := store.Store(ctx, key, entry, time.Minute); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}
	got, ok, err := store.Lookup(ctx, "site:2")
	if err != nil || !ok {
		t.Fatalf("expected hit: ok=%v err=%v", ok, err)
	}
	if got.Value != values["site:2"] {
		t.Fatalf("expected the stored value back, got %#v", got.Value)
	}
	if size, err := store.Size(ctx); err != nil || size != 3 {
		t.Fatalf("expected size 3, got %d (%v)", size, err)
	}

	if err := store.DeletePrefix(ctx, "site:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if _, ok, _ := store.Lookup(ctx, "site:1"); ok {
		t.Fatalf("expected site:1 to be deleted")
	}
	if _, ok, _ := store.Lookup(ctx, "cron-checks:1"); !ok {
		t.Fatalf("expected cron-checks:1 to survive")
	}
	if size, _ := store.Size(ctx); size != 1 {
		t.Fatalf("expected size 1 after delete, got %d", size)
	}
}

func TestRistrettoStoreKeepsIndexUnderConcurrentMiss(t *testing.T) {
	store, err := NewRistretto(10_000)
	if err != nil {
		t.Fatalf("new ristretto: %v", err)
	}
	ctx := context.Background()
	defer store.Close(ctx)

	const keys = 200
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		key := SiteKey(i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = store.Lookup(ctx, key)
		}()
		go func() {
			defer wg.Done()
			if err := store.Store(ctx, key, Entry{Key: key, Value: key}, time.Minute); err != nil {
				t.Errorf("store %s: %v", key, err)
			}
		}()
	}
	wg.Wait()

	if err := store.DeletePrefix(ctx, "site:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	for i := 0; i < keys; i++ {
		if _, ok, _ := store.Lookup(ctx, SiteKey(i)); ok {
			t.Fatalf("%s survived DeletePrefix after a racing miss", SiteKey(i))
		}
	}
}

func TestRedisStoreLookup(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewRedis(RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	ctx := context.Background()
	entry := Entry{
		Key:      "performance-records:42",
		Value:    []map[string]float64{{"total_time_in_seconds": 0.2}},
		StoredAt: time.Now().UTC(),
	}

	if err := store.Store(ctx, "pulse:performance-records:42", entry, 500*time.Millisecond); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := store.Lookup(ctx, "pulse:performance-records:42")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected redis cache hit")
	}
	encoded, isEncoded := got.Value.(Encoded)
	if got.Key != entry.Key || !isEncoded || string(encoded) != `[{"total_time_in_seconds":0.2}]` || !got.StoredAt.Equal(entry.StoredAt) {
		t.Fatalf("unexpected entry: %#v", got)
	}

	server.FastForward(time.Second)
	_, ok, err = store.Lookup(ctx, "pulse:performance-records:42")
	if err != nil {
		t.Fatalf("lookup after retention: %v", err)
	}
	if ok {
		t.Fatalf("expected redis entry to expire")
	}

	if size, err := store.Size(ctx); err != nil {
		t.Fatalf("size: %v", err)
	} else if size != 0 {
		t.Fatalf("expected size to reflect expired entries being gone, got %d", size)
	}

	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRedisStoreRejectsUnencodableValue(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewRedis(RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	ctx := context.Background()
	defer store.Close(ctx)

	if err := store.Store(ctx, "n:1", Entry{Key: "n:1", Value: math.NaN()}, 0); err == nil {
		t.Fatalf("expected NaN to be rejected")
	}
	if server.Exists("n:1") {
		t.Fatalf("expected nothing written for an unencodable value")
	}
}

func TestRedisStoreDeletePrefix(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewRedis(RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	ctx := context.Background()
	defer store.Close(ctx)

	for _, key := range []string{"pulse:site:1", "pulse:site:2", "pulse*:site:3", "other:site:1"} {
		if err := store.Store(ctx, key, Entry{Key: key}, 0); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}
	got, _, err := store.Lookup(ctx, "other:site:1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if encoded, _ := got.Value.(Encoded); string(encoded) != "null" {
		t.Fatalf("expected nil value stored as null, got %#v", got.Value)
	}
	if err := store.DeletePrefix(ctx, "pulse:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	for key, want := range map[string]bool{
		"pulse:site:1":  false,
		"pulse:site:2":  false,
		"pulse*:site:3": true,
		"other:site:1":  true,
	} {
		if _, ok, err := store.Lookup(ctx, key); err != nil || ok != want {
			t.Fatalf("key %s: expected present=%v, got %v (%v)", key, want, ok, err)
		}
	}
	if !server.Exists("other:site:1") {
		t.Fatalf("expected unrelated key to remain in redis")
	}
	if ttl := server.TTL("other:site:1"); ttl != 0 {
		t.Fatalf("expected no expiry without retention, got %v", ttl)
	}
}

func TestNewRedisRequiresAddress(t *testing.T) {
	if _, err := NewRedis(RedisConfig{}); err == nil {
		t.Fatalf("expected error without address")
	}
}
