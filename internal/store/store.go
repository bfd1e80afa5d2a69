// Package store provides durable persistence for API keys, usage counters,
// and the append-only reporting tables (session/error/auth/hourly rows).
package store

import (
	"context"
	"time"

	"github.com/livecaption/relay/internal/domain"
)

// UsageCheckResult is returned by CheckAndIncrementUsage.
type UsageCheckResult struct {
	Granted bool
	Reason  string // "" | "unknown_key" | "daily_limit_exceeded" | "lifetime_limit_exceeded"
}

// KeyStats backs GET /stats.
type KeyStats struct {
	Key            *domain.ApiKey
	DailyCount     int64
	LifetimeCount  int64
	RecentSessions []domain.SessionStatsRow
	RecentErrors   []domain.CaptionErrorRow
	RecentAuth     []domain.AuthEventRow
}

// UsageGranularity selects day or hour buckets for UsageReport.
type UsageGranularity string

const (
	GranularityDay  UsageGranularity = "day"
	GranularityHour UsageGranularity = "hour"
)

// UsageReportRow is one aggregate bucket in a usage report.
type UsageReportRow struct {
	Date            string
	Hour            int // -1 when granularity is day
	Domain          string
	SessionsStarted int64
	SessionsEnded   int64
	CaptionsSent    int64
	CaptionsFailed  int64
	BatchesSent     int64
	PeakSessions    int64
}

// Repository defines the durable persistence contract for keys, usage, and
// the append-only reporting tables.
type Repository interface {
	// CreateKey inserts a new key row.
	CreateKey(ctx context.Context, key *domain.ApiKey) error

	// GetKey retrieves a key by its opaque key string.
	GetKey(ctx context.Context, key string) (*domain.ApiKey, error)

	// GetKeyByEmail retrieves a key by owner email, for self-service dedup.
	GetKeyByEmail(ctx context.Context, email string) (*domain.ApiKey, error)

	// ListKeys returns all keys, most recently created first.
	ListKeys(ctx context.Context) ([]*domain.ApiKey, error)

	// UpdateKey applies owner/expiry/limit changes to an existing key.
	UpdateKey(ctx context.Context, key *domain.ApiKey) error

	// RevokeKey sets active=0 and stamps revoked_at.
	RevokeKey(ctx context.Context, key string) error

	// DeleteKey hard-deletes a key row (admin only).
	DeleteKey(ctx context.Context, key string) error

	// CheckAndIncrementUsage atomically validates and, if granted, increments
	// both the daily usage row and the lifetime counter in one transaction.
	// A denied check never mutates either counter.
	CheckAndIncrementUsage(ctx context.Context, key string, count int64, at time.Time) (UsageCheckResult, error)

	// Anonymise blanks owner, revokes the key, and drops dependent rows
	// while retaining the key row and email until original expiry.
	Anonymise(ctx context.Context, key string) error

	// CleanRevoked hard-deletes keys revoked more than olderThan ago and
	// their dependent rows in one transaction. dryRun returns a count
	// without mutating.
	CleanRevoked(ctx context.Context, olderThan time.Duration, dryRun bool) (int64, error)

	// AppendSessionStats writes a session-close summary row.
	AppendSessionStats(ctx context.Context, row domain.SessionStatsRow) error

	// AppendCaptionError writes a caption delivery failure row.
	AppendCaptionError(ctx context.Context, row domain.CaptionErrorRow) error

	// AppendAuthEvent writes an auth-relevant occurrence row.
	AppendAuthEvent(ctx context.Context, row domain.AuthEventRow) error

	// IncrementHourly increments the (date, hour, domain) roll-up counters.
	IncrementHourly(ctx context.Context, domainName string, at time.Time, delta domain.HourlyRollup) error

	// Stats assembles the GET /stats response for a key.
	Stats(ctx context.Context, key string) (KeyStats, error)

	// UsageReport aggregates domain_hourly_stats over [from, to] at the
	// requested granularity.
	UsageReport(ctx context.Context, from, to time.Time, granularity UsageGranularity) ([]UsageReportRow, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
