package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/pulsecards/internal/cache"
	"github.com/l0p7/pulsecards/internal/config"
	"github.com/l0p7/pulsecards/internal/logging"
	"github.com/l0p7/pulsecards/internal/metrics"
	"github.com/l0p7/pulsecards/internal/ohdear"
	"github.com/l0p7/pulsecards/internal/pulse"
	"github.com/l0p7/pulsecards/internal/server"
	"github.com/l0p7/pulsecards/internal/templates"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "PULSE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())

	store := buildStore(logger.With(slog.String("agent", "cache_factory")), cfg.Server.Cache)
	apiCache := cache.New(cache.Options{
		Store:      store,
		DefaultTTL: cfg.Server.Cache.DefaultTTL,
		Retention:  cfg.Server.Cache.Retention,
		Prefix:     cfg.Server.Cache.Prefix,
		Logger:     logger,
		Metrics:    metricsRecorder,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := apiCache.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	provider := pulse.NewSwappableConfig(cfg.OhDear)
	client, err := ohdear.NewClient(ohdear.ClientConfig{
		BaseURL:     cfg.OhDear.BaseURL,
		TokenSource: provider.Token,
		Timeout:     cfg.OhDear.Timeout,
	})
	if err != nil {
		logger.Error("unable to construct oh dear client", slog.Any("error", err))
		os.Exit(1)
	}

	cards, err := pulse.NewCards(pulse.Options{
		Fetcher: pulse.NewConfiguredFetcher(provider, apiCache),
		API:     client,
		Logger:  logger,
		Metrics: metricsRecorder,
	})
	if err != nil {
		logger.Error("unable to construct cards", slog.Any("error", err))
		os.Exit(1)
	}
	if !cards.IsConfigured() {
		logger.Warn("oh dear integration not configured; cards will render empty")
	}

	if cfg.Source != "" {
		watcher, err := loader.WatchFile(ctx, cfg, reloadOhDear(ctx, logger, provider, apiCache), func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewRouter(server.RouterOptions{
		Cards:    cards,
		Cache:    apiCache,
		Renderer: buildRenderer(logger, cfg.Server.Templates),
		Metrics:  metricsRecorder.Handler(),
		Logger:   logger,
	})

	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// reloadOhDear swaps in the integration settings of a reloaded config. When
// the token or site changed, remembered results belong to the old identity
// and are dropped. Fetches still running under the old token return to their
// callers without being stored.
func reloadOhDear(ctx context.Context, logger *slog.Logger, provider *pulse.SwappableConfig, c *cache.APICallCache) func(config.Config) {
	return func(next config.Config) {
		if !provider.Set(next.OhDear) {
			logger.Debug("config reloaded, integration unchanged")
			return
		}
		logger.Info("oh dear settings reloaded",
			slog.Int("site_id", next.OhDear.SiteID),
			slog.Bool("configured", next.OhDear.Configured()))
		if err := c.Invalidate(ctx); err != nil {
			logger.Error("cache invalidation failed", slog.Any("error", err))
		}
	}
}

func buildStore(logger *slog.Logger, cfg config.ServerCacheConfig) cache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory cache store")
		return cache.NewMemory()
	case "ristretto":
		store, err := cache.NewRistretto(cfg.MaxEntries)
		if err != nil {
			logger.Error("ristretto cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory()
		}
		logger.Info("using ristretto cache store", slog.Int64("max_entries", cfg.MaxEntries))
		return store
	case "redis":
		store, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory()
		}
		logger.Info("using redis cache store", slog.String("address", cfg.Redis.Address))
		return store
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}

// buildRenderer compiles the card templates, applying overrides from the
// configured directory. A broken override directory falls back to the
// built-in templates; nil disables HTML output.
func buildRenderer(logger *slog.Logger, cfg config.ServerTemplatesConfig) server.Renderer {
	var sandbox *templates.Sandbox
	if dir := strings.TrimSpace(cfg.Dir); dir != "" {
		sb, err := templates.NewSandbox(dir)
		if err != nil {
			logger.Warn("template sandbox setup failed", slog.String("templates_dir", dir), slog.Any("error", err))
		} else {
			sandbox = sb
		}
	}
	renderer, err := templates.NewRenderer(sandbox)
	if err == nil {
		return renderer
	}
	logger.Error("template overrides invalid, using built-in templates", slog.Any("error", err))
	renderer, err = templates.NewRenderer(nil)
	if err != nil {
		logger.Error("built-in templates invalid, html output disabled", slog.Any("error", err))
		return nil
	}
	return renderer
}
