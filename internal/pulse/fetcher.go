package pulse

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/l0p7/pulsecards/internal/cache"
	"github.com/l0p7/pulsecards/internal/config"
)

// ConfigProvider supplies the integration settings for the current request.
type ConfigProvider interface {
	OhDear() config.OhDearConfig
}

// StaticConfig is a ConfigProvider that never changes.
type StaticConfig config.OhDearConfig

func (s StaticConfig) OhDear() config.OhDearConfig { return config.OhDearConfig(s) }

// SwappableConfig is a ConfigProvider whose settings can be replaced at
// runtime, for example by the config file watcher. Readers always see a whole
// snapshot.
type SwappableConfig struct {
	current atomic.Pointer[config.OhDearConfig]
}

func NewSwappableConfig(initial config.OhDearConfig) *SwappableConfig {
	s := &SwappableConfig{}
	s.Set(initial)
	return s
}

func (s *SwappableConfig) OhDear() config.OhDearConfig {
	if cfg := s.current.Load(); cfg != nil {
		return *cfg
	}
	return config.OhDearConfig{}
}

// Set replaces the snapshot and reports whether the credentials or site changed.
func (s *SwappableConfig) Set(next config.OhDearConfig) bool {
	prev := s.current.Swap(&next)
	if prev == nil {
		return true
	}
	return prev.APIToken != next.APIToken || prev.SiteID != next.SiteID
}

// Token exposes the current API token, suitable as an ohdear.ClientConfig TokenSource.
func (s *SwappableConfig) Token() string { return s.OhDear().APIToken }

// ConfiguredFetcher guards every remote fetch behind the integration being
// configured. When it is not, fetches short-circuit to the zero value without
// touching the cache or the network.
type ConfiguredFetcher struct {
	provider ConfigProvider
	cache    *cache.APICallCache
}

func NewConfiguredFetcher(provider ConfigProvider, c *cache.APICallCache) *ConfiguredFetcher {
	if c == nil {
		c = cache.New(cache.Options{})
	}
	return &ConfiguredFetcher{provider: provider, cache: c}
}

// IsConfigured reports whether both an API token and a site id are present.
func (f *ConfiguredFetcher) IsConfigured() bool {
	if f == nil || f.provider == nil {
		return false
	}
	return f.provider.OhDear().Configured()
}

// Config returns the current integration settings.
func (f *ConfiguredFetcher) Config() config.OhDearConfig {
	if f == nil || f.provider == nil {
		return config.OhDearConfig{}
	}
	return f.provider.OhDear()
}

// FetchIfConfigured remembers fetch under key for ttl when the integration is
// configured and returns the zero value otherwise. A nil result from fetch is
// passed through as nil.
func FetchIfConfigured[T any](ctx context.Context, f *ConfiguredFetcher, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if !f.IsConfigured() {
		var zero T
		return zero, nil
	}
	return cache.Remember(ctx, f.cache, key, ttl, fetch)
}

// FetchIfConfiguredDefault is FetchIfConfigured with the cache's default TTL.
func FetchIfConfiguredDefault[T any](ctx context.Context, f *ConfiguredFetcher, key string, fetch func(context.Context) (T, error)) (T, error) {
	if !f.IsConfigured() {
		var zero T
		return zero, nil
	}
	return cache.RememberDefault(ctx, f.cache, key, fetch)
}
