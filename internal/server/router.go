package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/pulsecards/internal/pulse"
	"github.com/l0p7/pulsecards/internal/templates"
)

// CardService produces the card view-models the router serves.
type CardService interface {
	IsConfigured() bool
	AllowsSite(siteID int) bool
	Uptime(siteID int) *pulse.UptimeCard
	LoadUptime(ctx context.Context, card *pulse.UptimeCard) error
	Cron(siteID int) *pulse.CronCard
	LoadCron(ctx context.Context, card *pulse.CronCard) error
}

// CacheSizer reports the number of remembered entries for health output.
type CacheSizer interface {
	Size(ctx context.Context) (int64, error)
}

// Renderer turns a card view-model into an HTML fragment.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// RouterOptions collects the collaborators behind each route. Renderer and
// Metrics are optional; without them HTML output and /metrics answer 404.
type RouterOptions struct {
	Cards    CardService
	Cache    CacheSizer
	Renderer Renderer
	Metrics  http.Handler
	Logger   *slog.Logger
}

type router struct {
	RouterOptions
}

// NewRouter dispatches card, health and metrics requests.
func NewRouter(opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	opts.Logger = opts.Logger.With(slog.String("agent", "router"))
	if opts.Cards == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "cards unavailable", http.StatusServiceUnavailable)
		})
	}
	rt := &router{RouterOptions: opts}
	return http.HandlerFunc(rt.serveHTTP)
}

func (rt *router) serveHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := parseRoute(r.URL.Path)
	if !ok {
		rt.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		rt.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch route {
	case "uptime", "cron":
		rt.serveCard(w, r, route)
	case "healthz":
		rt.serveHealth(w, r)
	case "metrics":
		if rt.Metrics == nil {
			rt.writeError(w, http.StatusNotFound, "metrics disabled")
			return
		}
		rt.Metrics.ServeHTTP(w, r)
	}
}

func (rt *router) serveCard(w http.ResponseWriter, r *http.Request, card string) {
	siteID, err := siteOverride(r)
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if siteID > 0 && !rt.Cards.AllowsSite(siteID) {
		rt.Logger.Warn("card requested for site outside allow-list", slog.Int("site_id", siteID))
		rt.writeError(w, http.StatusForbidden, "site not allowed")
		return
	}
	html := strings.EqualFold(r.URL.Query().Get("format"), "html")
	if html && rt.Renderer == nil {
		rt.writeError(w, http.StatusNotFound, "html output disabled")
		return
	}

	var (
		view     any
		template string
	)
	switch card {
	case "uptime":
		c := rt.Cards.Uptime(siteID)
		err = rt.Cards.LoadUptime(r.Context(), c)
		view, template = c, templates.Uptime
	case "cron":
		c := rt.Cards.Cron(siteID)
		err = rt.Cards.LoadCron(r.Context(), c)
		view, template = c, templates.Cron
	}
	if err != nil {
		rt.Logger.Error("card load failed", slog.String("card", card), slog.Any("error", err))
		rt.writeError(w, http.StatusInternalServerError, "card unavailable")
		return
	}

	if !html {
		rt.writeJSON(w, http.StatusOK, view)
		return
	}
	out, err := rt.Renderer.Render(template, view)
	if err != nil {
		rt.Logger.Error("card render failed", slog.String("card", card), slog.Any("error", err))
		rt.writeError(w, http.StatusInternalServerError, "card render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (rt *router) serveHealth(w http.ResponseWriter, r *http.Request) {
	var entries int64
	if rt.Cache != nil {
		size, err := rt.Cache.Size(r.Context())
		if err != nil {
			rt.Logger.Error("cache size query failed", slog.Any("error", err))
		} else {
			entries = size
		}
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"configured":   rt.Cards.IsConfigured(),
		"cacheEntries": entries,
		"observedAt":   time.Now().UTC(),
	})
}

func (rt *router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rt.Logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (rt *router) writeError(w http.ResponseWriter, status int, message string) {
	rt.writeJSON(w, status, map[string]any{"error": message})
}

var errInvalidSite = errors.New("site must be a positive integer")

// siteOverride reads the optional ?site= parameter. Zero means the configured site.
func siteOverride(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("site"))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errInvalidSite
	}
	return id, nil
}

func parseRoute(path string) (string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		switch route := strings.ToLower(parts[0]); route {
		case "health", "healthz":
			return "healthz", true
		case "metrics":
			return route, true
		}
	case 2:
		if strings.ToLower(parts[0]) != "cards" {
			return "", false
		}
		switch route := strings.ToLower(parts[1]); route {
		case "uptime", "cron":
			return route, true
		}
	}
	return "", false
}
