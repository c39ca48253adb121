package cache

import (
	"strconv"
	"strings"
	"time"
)

// Namespaces for the remembered Oh Dear queries.
const (
	NamespaceSite               = "site"
	NamespacePerformanceRecords = "performance-records"
	NamespaceCronChecks         = "cron-checks"
)

// TTLs per logical query. DefaultTTL covers calls that do not name one and is
// roughly the length of a dashboard render pass.
const (
	SiteTTL               = 10 * time.Second
	PerformanceRecordsTTL = 30 * time.Second
	DefaultTTL            = 5 * time.Second
)

func siteScoped(namespace string, siteID int) string {
	return namespace + ":" + strconv.Itoa(siteID)
}

// SiteKey is the key for a site status lookup.
func SiteKey(siteID int) string { return siteScoped(NamespaceSite, siteID) }

// PerformanceRecordsKey is the key for the recent performance series of a site.
func PerformanceRecordsKey(siteID int) string {
	return siteScoped(NamespacePerformanceRecords, siteID)
}

// CronChecksKey is the key for the cron checks of a site. It never collides
// with SiteKey since the two queries return different shapes.
func CronChecksKey(siteID int) string { return siteScoped(NamespaceCronChecks, siteID) }

// namespaceOf returns the part of key before the first separator, used as a
// low-cardinality metrics label.
func namespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
