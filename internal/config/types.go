package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config holds every server-level option plus the Oh Dear integration settings.
type Config struct {
	Server ServerConfig `koanf:"server"`
	OhDear OhDearConfig `koanf:"ohdear"`

	// Source records the file the loader read, if any, so the watcher can
	// follow the same document without re-parsing flags.
	Source string `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs for the HTTP lifecycle.
type ServerConfig struct {
	Listen    ListenConfig          `koanf:"listen"`
	Logging   LoggingConfig         `koanf:"logging"`
	Cache     ServerCacheConfig     `koanf:"cache"`
	Templates ServerTemplatesConfig `koanf:"templates"`
}

// ServerTemplatesConfig points at an optional directory whose files replace
// the built-in card templates of the same name.
type ServerTemplatesConfig struct {
	Dir string `koanf:"dir"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type ServerCacheConfig struct {
	Backend    string                 `koanf:"backend"`
	DefaultTTL time.Duration          `koanf:"defaultTTL"`
	Retention  time.Duration          `koanf:"retention"`
	Prefix     string                 `koanf:"prefix"`
	MaxEntries int64                  `koanf:"maxEntries"`
	Redis      ServerRedisCacheConfig `koanf:"redis"`
}

type ServerRedisCacheConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      ServerRedisTLSConfig `koanf:"tls"`
}

type ServerRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// OhDearConfig carries the remote integration credentials. The integration
// counts as configured only when both the token and the site id are present.
// Sites lists the additional site ids a request may select with ?site=.
type OhDearConfig struct {
	SiteID   int           `koanf:"siteId"`
	Sites    []int         `koanf:"sites"`
	APIToken string        `koanf:"apiToken"`
	BaseURL  string        `koanf:"baseURL"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Configured reports whether the integration has a token and a target site.
func (c OhDearConfig) Configured() bool {
	return strings.TrimSpace(c.APIToken) != "" && c.SiteID > 0
}

// AllowsSite reports whether a card may be rendered for siteID: the
// configured site or one listed in Sites.
func (c OhDearConfig) AllowsSite(siteID int) bool {
	if siteID <= 0 {
		return false
	}
	return siteID == c.SiteID || slices.Contains(c.Sites, siteID)
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.DefaultTTL < 0 {
		return fmt.Errorf("config: server.cache.defaultTTL invalid: %s", c.Server.Cache.DefaultTTL)
	}
	if c.Server.Cache.Retention < 0 {
		return fmt.Errorf("config: server.cache.retention invalid: %s", c.Server.Cache.Retention)
	}
	if c.Server.Cache.MaxEntries < 0 {
		return fmt.Errorf("config: server.cache.maxEntries invalid: %d", c.Server.Cache.MaxEntries)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory", "ristretto":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	if c.OhDear.SiteID < 0 {
		return fmt.Errorf("config: ohdear.siteId invalid: %d", c.OhDear.SiteID)
	}
	for _, id := range c.OhDear.Sites {
		if id <= 0 {
			return fmt.Errorf("config: ohdear.sites invalid: %d", id)
		}
	}
	if c.OhDear.Timeout < 0 {
		return fmt.Errorf("config: ohdear.timeout invalid: %s", c.OhDear.Timeout)
	}
	return nil
}

// DefaultConfig returns the baseline values used before files and env are applied.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: ServerCacheConfig{
				Backend:    "memory",
				DefaultTTL: 5 * time.Second,
				Retention:  10 * time.Minute,
				Prefix:     "pulse:",
				MaxEntries: 10000,
			},
		},
		OhDear: OhDearConfig{
			BaseURL: "https://ohdear.app/api",
			Timeout: 10 * time.Second,
		},
	}
}
