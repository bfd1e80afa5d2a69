package domain

import "time"

// DailyUsage is one per (key, UTC calendar date) counter row.
type DailyUsage struct {
	ApiKey string
	Date   string // YYYY-MM-DD, UTC
	Count  int64
}

// SessionStatsRow is an append-only summary written when a session closes.
type SessionStatsRow struct {
	SessionID    string
	ApiKey       string
	Domain       string
	StartedAt    time.Time
	EndedAt      time.Time
	EndedBy      string // "client" | "ttl" | "erasure"
	Delivered    int64
	Failed       int64
}

// CaptionErrorRow is an append-only record of a failed caption delivery.
type CaptionErrorRow struct {
	SessionID  string
	ApiKey     string
	OccurredAt time.Time
	Error      string
	StatusCode int
}

// AuthEventRow is an append-only record of an auth-relevant occurrence.
type AuthEventRow struct {
	ApiKey     string
	Domain     string
	OccurredAt time.Time
	EventType  string // "denied" | "revoked" | "unknown_key" | "expired"
}

// HourlyRollup is one per (date, hour, domain) aggregate row.
type HourlyRollup struct {
	Date           string
	Hour           int
	Domain         string
	SessionsStarted int64
	SessionsEnded   int64
	CaptionsSent    int64
	CaptionsFailed  int64
	BatchesSent     int64
	PeakSessions    int64
}
