package ohdear

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const siteJSON = `{
  "id": 42,
  "url": "https://example.com",
  "sort_url": "example.com",
  "label": "Example",
  "team_id": 1,
  "latest_run_date": "2024-03-01 11:59:00",
  "summarized_check_result": "succeeded",
  "checks": [
    {"id": 1, "type": "uptime", "label": "Uptime", "enabled": true, "latest_run_ended_at": "2024-03-01 11:59:00", "latest_run_result": "succeeded", "summary": "Up"},
    {"id": 2, "type": "performance", "label": "Performance", "enabled": true, "latest_run_ended_at": null, "latest_run_result": "succeeded", "summary": "142 ms"}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	return client
}

func TestClientSite(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sites/42", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(siteJSON))
	})

	site, err := client.Site(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, site)
	require.Equal(t, 42, site.ID)
	require.Len(t, site.Checks, 2)
	require.Equal(t, "Up", site.Check("uptime").Summary)
	require.Equal(t, "142 ms", site.Check("performance").Summary)
	require.Nil(t, site.Check("broken_links"))
	require.True(t, site.Checks[1].LatestRunEndedAt.IsZero())
	require.Equal(t, time.Date(2024, 3, 1, 11, 59, 0, 0, time.UTC), site.LatestRunDate.Time)
}

func TestClientSiteNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"No query results"}`, http.StatusNotFound)
	})
	site, err := client.Site(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, site)
}

func TestClientAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Unauthenticated."}`))
	})
	_, err := client.CronChecks(context.Background(), 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "Unauthenticated.", apiErr.Message)
	require.Contains(t, apiErr.Error(), "401")
}

func TestClientPerformanceRecords(t *testing.T) {
	from := time.Date(2024, 3, 1, 11, 40, 0, 0, time.UTC)
	to := from.Add(20 * time.Minute)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sites/42/performance-records", r.URL.Path)
		require.Equal(t, "20240301114000", r.URL.Query().Get("filter[start]"))
		require.Equal(t, "20240301120000", r.URL.Query().Get("filter[end]"))
		_, _ = w.Write([]byte(`{"data":[
			{"id": 2, "site_id": 42, "created_at": "2024-03-01 11:59:00", "total_time_in_seconds": 0.25},
			{"id": 1, "site_id": 42, "created_at": "2024-03-01 11:58:00", "total_time_in_seconds": 0.125}
		]}`))
	})

	records, err := client.PerformanceRecords(context.Background(), 42, from, to)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 0.25, records[0].TotalTimeInSeconds)
	require.Equal(t, time.Date(2024, 3, 1, 11, 58, 0, 0, time.UTC), records[1].CreatedAt.Time)
}

func TestClientCronChecks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sites/42/cron-checks", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id": 9, "uuid": "abc", "name": "backup", "type": "simple", "frequency_in_minutes": 60, "grace_time_in_minutes": 5, "latest_result": "pinged", "latest_ping_at": "2024-03-01 11:00:00"}]}`))
	})

	checks, err := client.CronChecks(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	require.Equal(t, "backup", checks[0].Name)
	require.Equal(t, "pinged", checks[0].LatestResult)
}

func TestClientEmptyCronChecksIsNotNil(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	checks, err := client.CronChecks(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, checks)
	require.Empty(t, checks)
}

func TestClientTokenSource(t *testing.T) {
	token := "first"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":1,"authorization":"` + r.Header.Get("Authorization") + `"}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, TokenSource: func() string { return token }})
	require.NoError(t, err)
	_, err = client.Site(context.Background(), 1)
	require.NoError(t, err)

	token = ""
	_, err = client.Site(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoToken)
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	require.Error(t, err)
	_, err = NewClient(ClientConfig{BaseURL: "ftp://example.com"})
	require.Error(t, err)
	client, err := NewClient(ClientConfig{BaseURL: "https://ohdear.app/api/"})
	require.NoError(t, err)
	require.Equal(t, "https://ohdear.app/api/", client.baseURL.String())
}

func TestTimestampRoundTrip(t *testing.T) {
	record := PerformanceRecord{ID: 1, CreatedAt: Timestamp{time.Date(2024, 3, 1, 11, 58, 0, 0, time.UTC)}}
	payload, err := json.Marshal(record)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"created_at":"2024-03-01 11:58:00"`)

	var decoded PerformanceRecord
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.True(t, decoded.CreatedAt.Equal(record.CreatedAt.Time))

	var zero Timestamp
	zeroJSON, err := json.Marshal(zero)
	require.NoError(t, err)
	require.Equal(t, "null", string(zeroJSON))

	var rfc Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-01T11:58:00Z"`), &rfc))
	require.True(t, rfc.Equal(record.CreatedAt.Time))

	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &rfc))
}
