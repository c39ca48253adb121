package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/pulsecards/internal/metrics"
)

var (
	// ErrEmptyKey is returned when Remember is called without a key.
	ErrEmptyKey = errors.New("cache: key required")
	// ErrInvalidTTL is returned for negative TTLs.
	ErrInvalidTTL = errors.New("cache: ttl must not be negative")
	// ErrNilFetch is returned when Remember is called without a fetch function.
	ErrNilFetch = errors.New("cache: fetch function required")
)

// Options configures an APICallCache.
type Options struct {
	Store Store
	// DefaultTTL applies to RememberDefault. Non-positive values fall back to
	// the package DefaultTTL.
	DefaultTTL time.Duration
	// Retention is the minimum time a backend keeps an entry. Freshness is
	// still decided by each call's TTL.
	Retention time.Duration
	// Prefix is prepended to every key handed to the store.
	Prefix  string
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// APICallCache remembers the results of remote fetches per key. A stored
// result is reused while it is younger than the TTL of the call asking for it;
// otherwise the fetch runs once and its result replaces the entry. Concurrent
// misses for one key share a single fetch.
//
// In-process stores hand back the fetched value itself, so callers must treat
// remembered values as read-only.
type APICallCache struct {
	store      Store
	defaultTTL time.Duration
	retention  time.Duration
	prefix     string
	logger     *slog.Logger
	metrics    *metrics.Recorder
	now        func() time.Time

	group singleflight.Group

	// generation advances on every Invalidate. A fetch started under an older
	// generation returns its value without storing it. storeMu orders those
	// stores against the purge.
	generation atomic.Uint64
	storeMu    sync.RWMutex
}

// New builds a cache over opts.Store, defaulting to an in-memory store.
func New(opts Options) *APICallCache {
	store := opts.Store
	if store == nil {
		store = NewMemory()
	}
	defaultTTL := opts.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &APICallCache{
		store:      store,
		defaultTTL: defaultTTL,
		retention:  opts.Retention,
		prefix:     opts.Prefix,
		logger:     logger.With(slog.String("agent", "api_call_cache")),
		metrics:    opts.Metrics,
		now:        now,
	}
}

// DefaultTTL reports the TTL RememberDefault applies.
func (c *APICallCache) DefaultTTL() time.Duration { return c.defaultTTL }

// Remember returns the value stored under key if it is at most ttl old and
// otherwise calls fetch exactly once, stores its result and returns it. A ttl
// of zero always refetches. A nil result is remembered like any other value.
// Errors from fetch are returned unchanged and nothing is stored for them.
func Remember[T any](ctx context.Context, c *APICallCache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if fetch == nil {
		return zero, ErrNilFetch
	}
	var out T
	accept := func(value any) error {
		v, err := valueAs[T](value)
		if err != nil {
			return err
		}
		out = v
		return nil
	}
	err := c.remember(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, accept)
	if err != nil {
		return zero, err
	}
	return out, nil
}

// valueAs converts a stored value back into T. Values kept in process come
// back unchanged; Encoded values are decoded.
func valueAs[T any](value any) (T, error) {
	var out T
	switch v := value.(type) {
	case nil:
		return out, nil
	case Encoded:
		if err := json.Unmarshal(v, &out); err != nil {
			return out, err
		}
		return out, nil
	case T:
		return v, nil
	default:
		return out, fmt.Errorf("cached %T is not %T", value, out)
	}
}

// RememberDefault is Remember with the cache's default TTL.
func RememberDefault[T any](ctx context.Context, c *APICallCache, key string, fetch func(context.Context) (T, error)) (T, error) {
	return Remember(ctx, c, key, c.defaultTTL, fetch)
}

func (c *APICallCache) remember(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fetch func(context.Context) (any, error),
	accept func(any) error,
) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if ttl < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	namespace := namespaceOf(key)
	storeKey := c.prefix + key

	recheck := true
	if entry, ok := c.lookupFresh(ctx, namespace, storeKey, ttl, true); ok {
		err := accept(entry.Value)
		if err == nil {
			return nil
		}
		c.logger.Warn("cached entry unusable, refetching", slog.String("key", key), slog.Any("error", err))
		recheck = false
	}

	// Callers arriving after an Invalidate must not join a flight that began before it.
	gen := c.generation.Load()
	flightKey := storeKey + "#" + strconv.FormatUint(gen, 10)
	value, err, shared := c.group.Do(flightKey, func() (any, error) {
		// A flight that finished between our lookup and Do may already have stored a fresh entry.
		if recheck {
			if entry, ok := c.lookupFresh(ctx, namespace, storeKey, ttl, false); ok {
				return entry.Value, nil
			}
		}
		return c.fetchAndStore(ctx, namespace, key, storeKey, ttl, gen, fetch)
	})
	if err != nil {
		return err
	}
	if shared {
		c.logger.Debug("shared in-flight fetch", slog.String("key", key))
	}
	if err := accept(value); err != nil {
		return fmt.Errorf("cache: %q: %w", key, err)
	}
	return nil
}

func (c *APICallCache) lookupFresh(ctx context.Context, namespace, storeKey string, ttl time.Duration, observe bool) (Entry, bool) {
	start := time.Now()
	entry, ok, err := c.store.Lookup(ctx, storeKey)
	outcome := metrics.CacheLookupMiss
	fresh := false
	switch {
	case err != nil:
		outcome = metrics.CacheLookupError
		c.logger.Warn("cache lookup failed, treating as miss", slog.String("key", storeKey), slog.Any("error", err))
	case !ok:
	case ttl > 0 && c.now().Sub(entry.StoredAt) <= ttl:
		outcome = metrics.CacheLookupHit
		fresh = true
	default:
		outcome = metrics.CacheLookupStale
	}
	if observe {
		c.metrics.ObserveCacheLookup(namespace, outcome, time.Since(start))
	}
	return entry, fresh
}

func (c *APICallCache) fetchAndStore(
	ctx context.Context,
	namespace, key, storeKey string,
	ttl time.Duration,
	gen uint64,
	fetch func(context.Context) (any, error),
) (any, error) {
	start := time.Now()
	value, err := fetch(ctx)
	if err != nil {
		// Failures are never stored; the next call retries the fetch.
		c.metrics.ObserveFetch(namespace, metrics.FetchError, time.Since(start))
		c.logger.Debug("fetch failed", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}
	c.metrics.ObserveFetch(namespace, metrics.FetchOK, time.Since(start))

	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	storeStart := time.Now()
	if c.generation.Load() != gen {
		c.metrics.ObserveCacheStore(namespace, metrics.CacheStoreSkipped, time.Since(storeStart))
		c.logger.Debug("cache invalidated during fetch, not storing", slog.String("key", key))
		return value, nil
	}
	entry := Entry{Key: key, Value: value, StoredAt: c.now().UTC()}
	if err := c.store.Store(ctx, storeKey, entry, max(ttl, c.retention)); err != nil {
		c.metrics.ObserveCacheStore(namespace, metrics.CacheStoreError, time.Since(storeStart))
		c.logger.Warn("cache store failed", slog.String("key", key), slog.Any("error", err))
		return value, nil
	}
	c.metrics.ObserveCacheStore(namespace, metrics.CacheStoreStored, time.Since(storeStart))
	return value, nil
}

// Invalidate drops every entry under the cache's prefix. Fetches already in
// flight still return their results but do not store them.
func (c *APICallCache) Invalidate(ctx context.Context) error {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	c.generation.Add(1)
	if err := c.store.DeletePrefix(ctx, c.prefix); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}

// Size reports the number of entries in the backing store.
func (c *APICallCache) Size(ctx context.Context) (int64, error) {
	return c.store.Size(ctx)
}

// Close releases the backing store.
func (c *APICallCache) Close(ctx context.Context) error {
	return c.store.Close(ctx)
}
