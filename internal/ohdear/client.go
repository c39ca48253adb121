package ohdear

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// filterLayout is the format of the performance record window filters.
const filterLayout = "20060102150405"

// ClientConfig mirrors config.OhDearConfig to keep this package free of the
// config dependency.
type ClientConfig struct {
	BaseURL string
	Token   string
	// TokenSource, when set, is consulted on every request instead of Token so
	// credentials can be rotated without rebuilding the client.
	TokenSource func() string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client talks to the Oh Dear REST API.
type Client struct {
	baseURL     *url.URL
	token       string
	tokenSource func() string
	http        *http.Client
}

// APIError is returned for non-2xx responses other than 404.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ohdear: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("ohdear: status %d: %s", e.StatusCode, e.Message)
}

// ErrNoToken is returned when a request is attempted without credentials.
var ErrNoToken = errors.New("ohdear: api token required")

func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("ohdear: base url required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("ohdear: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("ohdear: unsupported base url scheme %q", base.Scheme)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:     base,
		token:       cfg.Token,
		tokenSource: cfg.TokenSource,
		http:        httpClient,
	}, nil
}

// Site fetches a site with its check summaries. A missing site yields (nil, nil).
func (c *Client) Site(ctx context.Context, siteID int) (*Site, error) {
	var site Site
	found, err := c.get(ctx, "sites/"+strconv.Itoa(siteID), nil, &site)
	if err != nil || !found {
		return nil, err
	}
	return &site, nil
}

// PerformanceRecords fetches the timing samples of a site between from and to.
func (c *Client) PerformanceRecords(ctx context.Context, siteID int, from, to time.Time) ([]PerformanceRecord, error) {
	query := url.Values{}
	query.Set("filter[start]", from.UTC().Format(filterLayout))
	query.Set("filter[end]", to.UTC().Format(filterLayout))
	var envelope struct {
		Data []PerformanceRecord `json:"data"`
	}
	found, err := c.get(ctx, "sites/"+strconv.Itoa(siteID)+"/performance-records", query, &envelope)
	if err != nil || !found {
		return nil, err
	}
	return envelope.Data, nil
}

// CronChecks fetches the cron checks of a site. A missing site yields (nil, nil).
func (c *Client) CronChecks(ctx context.Context, siteID int) ([]CronCheck, error) {
	var envelope struct {
		Data []CronCheck `json:"data"`
	}
	found, err := c.get(ctx, "sites/"+strconv.Itoa(siteID)+"/cron-checks", nil, &envelope)
	if err != nil || !found {
		return nil, err
	}
	if envelope.Data == nil {
		envelope.Data = []CronCheck{}
	}
	return envelope.Data, nil
}

func (c *Client) currentToken() string {
	if c.tokenSource != nil {
		return strings.TrimSpace(c.tokenSource())
	}
	return strings.TrimSpace(c.token)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) (bool, error) {
	token := c.currentToken()
	if token == "" {
		return false, ErrNoToken
	}
	target := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return false, fmt.Errorf("ohdear: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("ohdear: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Message = payload.Message
		}
		return false, apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("ohdear: decode %s: %w", path, err)
	}
	return true, nil
}
