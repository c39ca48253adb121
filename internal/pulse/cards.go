package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/l0p7/pulsecards/internal/cache"
	"github.com/l0p7/pulsecards/internal/metrics"
	"github.com/l0p7/pulsecards/internal/ohdear"
)

const (
	// PerformanceWindow is how far back the uptime chart reaches.
	PerformanceWindow = 20 * time.Minute

	statusOnline = "Online"
	statusDown   = "Down"

	StatusColorOnline  = "dark:bg-gradient-to-t dark:from-emerald-500 dark:to-emerald-400 bg-emerald-100 text-emerald-800 dark:border-emerald-300 dark:text-gray-900 dark:border-t"
	StatusColorDown    = "dark:bg-gradient-to-t dark:from-rose-500 dark:to-rose-400 bg-rose-100 text-rose-800 dark:border-rose-300 dark:text-gray-900 dark:border-t"
	StatusColorUnknown = "bg-gray-600"

	cardUptime = "uptime"
	cardCron   = "cron"

	stateUnconfigured = "unconfigured"
	stateUnavailable  = "unavailable"
	stateReady        = "ready"
)

// API is the subset of the Oh Dear client the cards read from.
type API interface {
	Site(ctx context.Context, siteID int) (*ohdear.Site, error)
	PerformanceRecords(ctx context.Context, siteID int, from, to time.Time) ([]ohdear.PerformanceRecord, error)
	CronChecks(ctx context.Context, siteID int) ([]ohdear.CronCheck, error)
}

// Options configures a Cards service.
type Options struct {
	Fetcher *ConfiguredFetcher
	API     API
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// Cards builds the uptime and cron card view-models.
type Cards struct {
	fetcher *ConfiguredFetcher
	api     API
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewCards(opts Options) (*Cards, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("pulse: configured fetcher required")
	}
	if opts.API == nil {
		return nil, fmt.Errorf("pulse: api client required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cards{
		fetcher: opts.Fetcher,
		api:     opts.API,
		logger:  logger.With(slog.String("agent", "cards")),
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// IsConfigured reports whether the integration has credentials and a site.
func (c *Cards) IsConfigured() bool { return c.fetcher.IsConfigured() }

// AllowsSite reports whether a card may be built for siteID.
func (c *Cards) AllowsSite(siteID int) bool { return c.fetcher.Config().AllowsSite(siteID) }

// siteID resolves a per-card override, falling back to the configured site.
func (c *Cards) siteID(override int) int {
	if override > 0 {
		return override
	}
	return c.fetcher.Config().SiteID
}

// ChartPoint is one latency sample: a millisecond timestamp and the total
// request time in milliseconds. It encodes as a two element array.
type ChartPoint struct {
	Timestamp int64
	LatencyMS float64
}

func (p ChartPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Timestamp, p.LatencyMS})
}

func (p *ChartPoint) UnmarshalJSON(data []byte) error {
	var raw [2]json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := raw[0].Int64()
	if err != nil {
		return err
	}
	latency, err := raw[1].Float64()
	if err != nil {
		return err
	}
	p.Timestamp, p.LatencyMS = ts, latency
	return nil
}

// UptimeCard is the view-model of the uptime card.
type UptimeCard struct {
	SiteID       int          `json:"siteId"`
	IsConfigured bool         `json:"isConfigured"`
	Site         *ohdear.Site `json:"site"`
	Status       *string      `json:"status"`
	StatusColor  string       `json:"statusColor"`
	Performance  *string      `json:"performance"`
	Chart        []ChartPoint `json:"chart"`
	ChartMax     int          `json:"chartMax"`
	Labels       []string     `json:"labels"`
}

// Uptime returns an unloaded uptime card for siteID, or for the configured
// site when siteID is zero.
func (c *Cards) Uptime(siteID int) *UptimeCard {
	return &UptimeCard{SiteID: c.siteID(siteID), StatusColor: StatusColorUnknown}
}

// LoadUptime fetches the site and its recent performance records through the
// cache and fills the card. Remote failures leave the affected fields empty.
func (c *Cards) LoadUptime(ctx context.Context, card *UptimeCard) error {
	card.IsConfigured = c.IsConfigured()
	siteID := card.SiteID

	site, err := c.site(ctx, siteID)
	if err != nil {
		return err
	}
	records, err := c.performanceRecords(ctx, siteID)
	if err != nil {
		return err
	}

	card.Site = site
	card.Status = uptimeStatus(site)
	card.StatusColor = statusColor(card.Status)
	card.Performance = checkSummary(site, "performance")
	card.Chart = chartPoints(records)
	card.ChartMax = chartMax(card.Chart)
	card.Labels = chartLabels(len(card.Chart))

	c.metrics.ObserveCardRender(cardUptime, renderState(card.IsConfigured, site != nil))
	return nil
}

func (c *Cards) site(ctx context.Context, siteID int) (*ohdear.Site, error) {
	return FetchIfConfigured(ctx, c.fetcher, cache.SiteKey(siteID), cache.SiteTTL,
		func(ctx context.Context) (*ohdear.Site, error) {
			site, err := c.api.Site(ctx, siteID)
			if err != nil {
				c.logger.Warn("site unavailable", slog.Int("site_id", siteID), slog.Any("error", err))
				return nil, nil
			}
			return site, nil
		})
}

func (c *Cards) performanceRecords(ctx context.Context, siteID int) ([]ohdear.PerformanceRecord, error) {
	return FetchIfConfigured(ctx, c.fetcher, cache.PerformanceRecordsKey(siteID), cache.PerformanceRecordsTTL,
		func(ctx context.Context) ([]ohdear.PerformanceRecord, error) {
			now := c.now()
			records, err := c.api.PerformanceRecords(ctx, siteID, now.Add(-PerformanceWindow), now)
			if err != nil {
				c.logger.Warn("performance records unavailable", slog.Int("site_id", siteID), slog.Any("error", err))
				return nil, nil
			}
			return records, nil
		})
}

// CronCard is the view-model of the cron card.
type CronCard struct {
	SiteID       int                `json:"siteId"`
	IsConfigured bool               `json:"isConfigured"`
	CronChecks   []ohdear.CronCheck `json:"cronChecks"`
}

// Cron returns an unloaded cron card for siteID, or for the configured site
// when siteID is zero.
func (c *Cards) Cron(siteID int) *CronCard {
	return &CronCard{SiteID: c.siteID(siteID)}
}

// LoadCron fetches the site's cron checks with the default TTL.
func (c *Cards) LoadCron(ctx context.Context, card *CronCard) error {
	card.IsConfigured = c.IsConfigured()
	siteID := card.SiteID
	checks, err := FetchIfConfiguredDefault(ctx, c.fetcher, cache.CronChecksKey(siteID),
		func(ctx context.Context) ([]ohdear.CronCheck, error) {
			checks, err := c.api.CronChecks(ctx, siteID)
			if err != nil {
				c.logger.Warn("cron checks unavailable", slog.Int("site_id", siteID), slog.Any("error", err))
				return nil, nil
			}
			return checks, nil
		})
	if err != nil {
		return err
	}
	card.CronChecks = checks
	c.metrics.ObserveCardRender(cardCron, renderState(card.IsConfigured, checks != nil))
	return nil
}

func renderState(configured, available bool) string {
	switch {
	case !configured:
		return stateUnconfigured
	case !available:
		return stateUnavailable
	default:
		return stateReady
	}
}

func uptimeStatus(site *ohdear.Site) *string {
	summary := checkSummary(site, "uptime")
	if summary == nil {
		return nil
	}
	if *summary == "Up" {
		status := statusOnline
		return &status
	}
	return summary
}

func statusColor(status *string) string {
	if status == nil {
		return StatusColorUnknown
	}
	switch *status {
	case statusOnline:
		return StatusColorOnline
	case statusDown:
		return StatusColorDown
	default:
		return StatusColorUnknown
	}
}

func checkSummary(site *ohdear.Site, checkType string) *string {
	check := site.Check(checkType)
	if check == nil {
		return nil
	}
	summary := check.Summary
	return &summary
}

// chartPoints converts API records, newest first, into points ordered oldest
// to newest.
func chartPoints(records []ohdear.PerformanceRecord) []ChartPoint {
	points := make([]ChartPoint, len(records))
	for i, record := range records {
		points[len(records)-1-i] = ChartPoint{
			Timestamp: record.CreatedAt.UnixMilli(),
			LatencyMS: math.Round(record.TotalTimeInSeconds*1000*100) / 100,
		}
	}
	return points
}

func chartMax(points []ChartPoint) int {
	peak := 0.0
	for _, p := range points {
		peak = max(peak, p.LatencyMS)
	}
	return int(math.Ceil(peak)) + 10
}

// chartLabels names each point by its age in minutes. Points run oldest to
// newest so the last label is "Now".
func chartLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		age := n - 1 - i
		switch age {
		case 0:
			labels[i] = "Now"
		case 1:
			labels[i] = "1 minute ago"
		default:
			labels[i] = strconv.Itoa(age) + " minutes ago"
		}
	}
	return labels
}
