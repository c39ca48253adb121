package ohdear

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the format Oh Dear uses for record timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a UTC time encoded as "Y-m-d H:i:s". It marshals back to the
// same layout so records survive a round trip through the cache.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(TimestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(TimestampLayout, raw, time.UTC)
	if err != nil {
		// Some endpoints emit RFC 3339 instead.
		parsed, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("ohdear: parse timestamp %q: %w", raw, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// Check is the summary of one check type on a site.
type Check struct {
	ID               int       `json:"id"`
	Type             string    `json:"type"`
	Label            string    `json:"label"`
	Enabled          bool      `json:"enabled"`
	LatestRunEndedAt Timestamp `json:"latest_run_ended_at"`
	LatestRunResult  string    `json:"latest_run_result"`
	Summary          string    `json:"summary"`
}

// Site is a monitored site with its check summaries.
type Site struct {
	ID                    int       `json:"id"`
	URL                   string    `json:"url"`
	SortURL               string    `json:"sort_url"`
	Label                 string    `json:"label"`
	TeamID                int       `json:"team_id"`
	LatestRunDate         Timestamp `json:"latest_run_date"`
	SummarizedCheckResult string    `json:"summarized_check_result"`
	Checks                []Check   `json:"checks"`
}

// Check returns the first check of the given type, or nil.
func (s *Site) Check(checkType string) *Check {
	if s == nil {
		return nil
	}
	for i := range s.Checks {
		if s.Checks[i].Type == checkType {
			return &s.Checks[i]
		}
	}
	return nil
}

// PerformanceRecord is one uptime check timing sample.
type PerformanceRecord struct {
	ID                                  int       `json:"id"`
	SiteID                              int       `json:"site_id"`
	CreatedAt                           Timestamp `json:"created_at"`
	DNSTimeInSeconds                    float64   `json:"dns_time_in_seconds"`
	TCPTimeInSeconds                    float64   `json:"tcp_time_in_seconds"`
	SSLHandshakeTimeInSeconds           float64   `json:"ssl_handshake_time_in_seconds"`
	RemoteServerProcessingTimeInSeconds float64   `json:"remote_server_processing_time_in_seconds"`
	DownloadTimeInSeconds               float64   `json:"download_time_in_seconds"`
	TotalTimeInSeconds                  float64   `json:"total_time_in_seconds"`
}

// CronCheck is a scheduled task monitor.
type CronCheck struct {
	ID                 int       `json:"id"`
	UUID               string    `json:"uuid"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	Description        string    `json:"description"`
	FrequencyInMinutes int       `json:"frequency_in_minutes"`
	GraceTimeInMinutes int       `json:"grace_time_in_minutes"`
	CronExpression     string    `json:"cron_expression"`
	ServerTimezone     string    `json:"server_timezone"`
	LatestResult       string    `json:"latest_result"`
	LatestPingAt       Timestamp `json:"latest_ping_at"`
	CreatedAt          Timestamp `json:"created_at"`
}
