package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/livecaption/relay/internal/domain"
	"github.com/livecaption/relay/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository, creating the DB
// directory and schema (additive-only) if they do not yet exist.
func NewSQLite(dbPath string) (Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS api_keys (
		key            TEXT PRIMARY KEY,
		owner          TEXT NOT NULL,
		email          TEXT,
		created_at     INTEGER NOT NULL,
		expires_at     INTEGER,
		active         INTEGER NOT NULL DEFAULT 1,
		revoked_at     INTEGER,
		daily_limit    INTEGER,
		lifetime_limit INTEGER,
		lifetime_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_email ON api_keys(email) WHERE email IS NOT NULL AND email != '';

	CREATE TABLE IF NOT EXISTS caption_usage (
		api_key TEXT NOT NULL,
		date    TEXT NOT NULL,
		count   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (api_key, date)
	);

	CREATE TABLE IF NOT EXISTS session_stats (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		api_key     TEXT NOT NULL,
		domain      TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		ended_at    INTEGER NOT NULL,
		ended_by    TEXT NOT NULL,
		delivered   INTEGER NOT NULL DEFAULT 0,
		failed      INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_session_stats_key ON session_stats(api_key, ended_at);

	CREATE TABLE IF NOT EXISTS caption_errors (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		api_key     TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		error       TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_caption_errors_key ON caption_errors(api_key, occurred_at);

	CREATE TABLE IF NOT EXISTS auth_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		api_key     TEXT NOT NULL,
		domain      TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		event_type  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_events_key ON auth_events(api_key, occurred_at);

	CREATE TABLE IF NOT EXISTS domain_hourly_stats (
		date             TEXT NOT NULL,
		hour             INTEGER NOT NULL,
		domain           TEXT NOT NULL,
		sessions_started INTEGER NOT NULL DEFAULT 0,
		sessions_ended   INTEGER NOT NULL DEFAULT 0,
		captions_sent    INTEGER NOT NULL DEFAULT 0,
		captions_failed  INTEGER NOT NULL DEFAULT 0,
		batches_sent     INTEGER NOT NULL DEFAULT 0,
		peak_sessions    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, hour, domain)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry retries fn on transient SQLITE_BUSY / "database is locked"
// errors with exponential backoff, matching the concurrency posture the
// rest of this store's callers expect under WAL mode.
func withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("store: retrying after SQLite conflict", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanApiKey(row scanner) (*domain.ApiKey, error) {
	var k domain.ApiKey
	var email sql.NullString
	var createdAt int64
	var expiresAt, revokedAt sql.NullInt64
	var dailyLimit, lifetimeLimit sql.NullInt64
	var active int

	err := row.Scan(
		&k.Key, &k.Owner, &email, &createdAt, &expiresAt,
		&active, &revokedAt, &dailyLimit, &lifetimeLimit, &k.LifetimeCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}

	k.Email = email.String
	k.CreatedAt = time.Unix(createdAt, 0)
	k.Active = active != 0
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		k.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := time.Unix(revokedAt.Int64, 0)
		k.RevokedAt = &t
	}
	if dailyLimit.Valid {
		v := dailyLimit.Int64
		k.DailyLimit = &v
	}
	if lifetimeLimit.Valid {
		v := lifetimeLimit.Int64
		k.LifetimeLimit = &v
	}
	return &k, nil
}

const apiKeyColumns = `key, owner, email, created_at, expires_at, active, revoked_at, daily_limit, lifetime_limit, lifetime_count`

// CreateKey inserts a new key row.
func (s *SQLiteStore) CreateKey(ctx context.Context, key *domain.ApiKey) error {
	query := `INSERT INTO api_keys (` + apiKeyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		key.Key, key.Owner, nullStr(key.Email), key.CreatedAt.Unix(),
		nullTime(key.ExpiresAt), boolToInt(key.Active), nullTime(key.RevokedAt),
		nullInt64(key.DailyLimit), nullInt64(key.LifetimeLimit), key.LifetimeCount,
	)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

// GetKey retrieves a key by its opaque key string.
func (s *SQLiteStore) GetKey(ctx context.Context, key string) (*domain.ApiKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key = ?`, key)
	return scanApiKey(row)
}

// GetKeyByEmail retrieves a key by owner email, for self-service dedup.
func (s *SQLiteStore) GetKeyByEmail(ctx context.Context, email string) (*domain.ApiKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE email = ?`, email)
	return scanApiKey(row)
}

// ListKeys returns all keys, most recently created first.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]*domain.ApiKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKey applies owner/expiry/limit changes to an existing key.
func (s *SQLiteStore) UpdateKey(ctx context.Context, key *domain.ApiKey) error {
	query := `
		UPDATE api_keys SET owner = ?, expires_at = ?, daily_limit = ?, lifetime_limit = ?
		WHERE key = ?`
	result, err := s.db.ExecContext(ctx, query,
		key.Owner, nullTime(key.ExpiresAt), nullInt64(key.DailyLimit), nullInt64(key.LifetimeLimit),
		key.Key,
	)
	if err != nil {
		return fmt.Errorf("update key: %w", err)
	}
	return requireRowsAffected(result, "key not found")
}

func requireRowsAffected(result sql.Result, notFoundMsg string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s", notFoundMsg)
	}
	return nil
}

// RevokeKey sets active=0 and stamps revoked_at.
func (s *SQLiteStore) RevokeKey(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET active = 0, revoked_at = ? WHERE key = ?`,
		time.Now().Unix(), key)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	return requireRowsAffected(result, "key not found")
}

// DeleteKey hard-deletes a key row (admin only).
func (s *SQLiteStore) DeleteKey(ctx context.Context, key string) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete key tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for _, stmt := range []string{
			`DELETE FROM caption_usage WHERE api_key = ?`,
			`DELETE FROM session_stats WHERE api_key = ?`,
			`DELETE FROM caption_errors WHERE api_key = ?`,
			`DELETE FROM auth_events WHERE api_key = ?`,
			`DELETE FROM api_keys WHERE key = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, key); err != nil {
				return fmt.Errorf("delete key dependents: %w", err)
			}
		}
		return tx.Commit()
	})
}

// CheckAndIncrementUsage atomically validates and, if granted, increments
// both the daily usage row and the lifetime counter in one transaction.
func (s *SQLiteStore) CheckAndIncrementUsage(ctx context.Context, key string, count int64, at time.Time) (UsageCheckResult, error) {
	var result UsageCheckResult
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin usage tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		row := tx.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key = ?`, key)
		k, err := scanApiKey(row)
		if err != nil {
			return err
		}
		if k == nil {
			result = UsageCheckResult{Granted: false, Reason: "unknown_key"}
			return nil
		}

		date := at.UTC().Format("2006-01-02")
		var dailyCount int64
		dailyRow := tx.QueryRowContext(ctx, `SELECT count FROM caption_usage WHERE api_key = ? AND date = ?`, key, date)
		switch scanErr := dailyRow.Scan(&dailyCount); scanErr {
		case nil, sql.ErrNoRows:
		default:
			return fmt.Errorf("scan daily usage: %w", scanErr)
		}

		if k.DailyLimit != nil && dailyCount+count > *k.DailyLimit {
			result = UsageCheckResult{Granted: false, Reason: "daily_limit_exceeded"}
			return nil
		}
		if k.LifetimeLimit != nil && k.LifetimeCount+count > *k.LifetimeLimit {
			result = UsageCheckResult{Granted: false, Reason: "lifetime_limit_exceeded"}
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO caption_usage (api_key, date, count) VALUES (?, ?, ?)
			ON CONFLICT(api_key, date) DO UPDATE SET count = count + excluded.count`,
			key, date, count); err != nil {
			return fmt.Errorf("increment daily usage: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE api_keys SET lifetime_count = lifetime_count + ? WHERE key = ?`, count, key); err != nil {
			return fmt.Errorf("increment lifetime usage: %w", err)
		}

		result = UsageCheckResult{Granted: true}
		return tx.Commit()
	})
	if err != nil {
		return UsageCheckResult{}, err
	}
	return result, nil
}

// Anonymise blanks owner, revokes the key, and drops dependent rows while
// retaining the key row and email until original expiry.
func (s *SQLiteStore) Anonymise(ctx context.Context, key string) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin anonymise tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if _, err := tx.ExecContext(ctx,
			`UPDATE api_keys SET owner = '', active = 0, revoked_at = ? WHERE key = ?`,
			time.Now().Unix(), key); err != nil {
			return fmt.Errorf("anonymise key: %w", err)
		}
		for _, stmt := range []string{
			`DELETE FROM session_stats WHERE api_key = ?`,
			`DELETE FROM caption_errors WHERE api_key = ?`,
			`DELETE FROM auth_events WHERE api_key = ?`,
			`DELETE FROM caption_usage WHERE api_key = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, key); err != nil {
				return fmt.Errorf("anonymise dependents: %w", err)
			}
		}
		return tx.Commit()
	})
}

// CleanRevoked hard-deletes keys revoked more than olderThan ago and their
// dependent rows in one transaction. dryRun returns a count without mutating.
func (s *SQLiteStore) CleanRevoked(ctx context.Context, olderThan time.Duration, dryRun bool) (int64, error) {
	threshold := time.Now().Add(-olderThan).Unix()

	if dryRun {
		var count int64
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM api_keys WHERE active = 0 AND revoked_at IS NOT NULL AND revoked_at < ?`, threshold)
		if err := row.Scan(&count); err != nil {
			return 0, fmt.Errorf("count revoked keys: %w", err)
		}
		return count, nil
	}

	var deleted int64
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin clean revoked tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		rows, err := tx.QueryContext(ctx,
			`SELECT key FROM api_keys WHERE active = 0 AND revoked_at IS NOT NULL AND revoked_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("query revoked keys: %w", err)
		}
		var keys []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return fmt.Errorf("scan revoked key: %w", err)
			}
			keys = append(keys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, k := range keys {
			for _, stmt := range []string{
				`DELETE FROM caption_usage WHERE api_key = ?`,
				`DELETE FROM session_stats WHERE api_key = ?`,
				`DELETE FROM caption_errors WHERE api_key = ?`,
				`DELETE FROM auth_events WHERE api_key = ?`,
				`DELETE FROM api_keys WHERE key = ?`,
			} {
				if _, err := tx.ExecContext(ctx, stmt, k); err != nil {
					return fmt.Errorf("clean revoked dependents: %w", err)
				}
			}
		}
		deleted = int64(len(keys))
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// AppendSessionStats writes a session-close summary row.
func (s *SQLiteStore) AppendSessionStats(ctx context.Context, row domain.SessionStatsRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_stats (session_id, api_key, domain, started_at, ended_at, ended_by, delivered, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.ApiKey, row.Domain, row.StartedAt.Unix(), row.EndedAt.Unix(), row.EndedBy, row.Delivered, row.Failed)
	if err != nil {
		return fmt.Errorf("append session stats: %w", err)
	}
	return nil
}

// AppendCaptionError writes a caption delivery failure row.
func (s *SQLiteStore) AppendCaptionError(ctx context.Context, row domain.CaptionErrorRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO caption_errors (session_id, api_key, occurred_at, error, status_code)
		VALUES (?, ?, ?, ?, ?)`,
		row.SessionID, row.ApiKey, row.OccurredAt.Unix(), row.Error, row.StatusCode)
	if err != nil {
		return fmt.Errorf("append caption error: %w", err)
	}
	return nil
}

// AppendAuthEvent writes an auth-relevant occurrence row.
func (s *SQLiteStore) AppendAuthEvent(ctx context.Context, row domain.AuthEventRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_events (api_key, domain, occurred_at, event_type)
		VALUES (?, ?, ?, ?)`,
		row.ApiKey, row.Domain, row.OccurredAt.Unix(), row.EventType)
	if err != nil {
		return fmt.Errorf("append auth event: %w", err)
	}
	return nil
}

// IncrementHourly increments the (date, hour, domain) roll-up counters.
func (s *SQLiteStore) IncrementHourly(ctx context.Context, domainName string, at time.Time, delta domain.HourlyRollup) error {
	date := at.UTC().Format("2006-01-02")
	hour := at.UTC().Hour()

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO domain_hourly_stats (date, hour, domain, sessions_started, sessions_ended, captions_sent, captions_failed, batches_sent, peak_sessions)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date, hour, domain) DO UPDATE SET
				sessions_started = sessions_started + excluded.sessions_started,
				sessions_ended   = sessions_ended + excluded.sessions_ended,
				captions_sent    = captions_sent + excluded.captions_sent,
				captions_failed  = captions_failed + excluded.captions_failed,
				batches_sent     = batches_sent + excluded.batches_sent,
				peak_sessions    = MAX(peak_sessions, excluded.peak_sessions)`,
			date, hour, domainName,
			delta.SessionsStarted, delta.SessionsEnded, delta.CaptionsSent, delta.CaptionsFailed, delta.BatchesSent, delta.PeakSessions)
		if err != nil {
			return fmt.Errorf("increment hourly rollup: %w", err)
		}
		return nil
	})
}

// Stats assembles the GET /stats response for a key.
func (s *SQLiteStore) Stats(ctx context.Context, key string) (KeyStats, error) {
	k, err := s.GetKey(ctx, key)
	if err != nil {
		return KeyStats{}, err
	}
	if k == nil {
		return KeyStats{}, fmt.Errorf("unknown key")
	}

	date := time.Now().UTC().Format("2006-01-02")
	var dailyCount int64
	row := s.db.QueryRowContext(ctx, `SELECT count FROM caption_usage WHERE api_key = ? AND date = ?`, key, date)
	if err := row.Scan(&dailyCount); err != nil && err != sql.ErrNoRows {
		return KeyStats{}, fmt.Errorf("scan daily usage: %w", err)
	}

	sessions, err := s.recentSessions(ctx, key, 20)
	if err != nil {
		return KeyStats{}, err
	}
	errs, err := s.recentErrors(ctx, key, 20)
	if err != nil {
		return KeyStats{}, err
	}
	authEvents, err := s.recentAuthEvents(ctx, key, 20)
	if err != nil {
		return KeyStats{}, err
	}

	return KeyStats{
		Key:            k,
		DailyCount:     dailyCount,
		LifetimeCount:  k.LifetimeCount,
		RecentSessions: sessions,
		RecentErrors:   errs,
		RecentAuth:     authEvents,
	}, nil
}

func (s *SQLiteStore) recentSessions(ctx context.Context, key string, limit int) ([]domain.SessionStatsRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, api_key, domain, started_at, ended_at, ended_by, delivered, failed
		FROM session_stats WHERE api_key = ? ORDER BY ended_at DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionStatsRow
	for rows.Next() {
		var r domain.SessionStatsRow
		var started, ended int64
		if err := rows.Scan(&r.SessionID, &r.ApiKey, &r.Domain, &started, &ended, &r.EndedBy, &r.Delivered, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan session stats: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		r.EndedAt = time.Unix(ended, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) recentErrors(ctx context.Context, key string, limit int) ([]domain.CaptionErrorRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, api_key, occurred_at, error, status_code
		FROM caption_errors WHERE api_key = ? ORDER BY occurred_at DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent errors: %w", err)
	}
	defer rows.Close()

	var out []domain.CaptionErrorRow
	for rows.Next() {
		var r domain.CaptionErrorRow
		var occurred int64
		if err := rows.Scan(&r.SessionID, &r.ApiKey, &occurred, &r.Error, &r.StatusCode); err != nil {
			return nil, fmt.Errorf("scan caption error: %w", err)
		}
		r.OccurredAt = time.Unix(occurred, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) recentAuthEvents(ctx context.Context, key string, limit int) ([]domain.AuthEventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT api_key, domain, occurred_at, event_type
		FROM auth_events WHERE api_key = ? ORDER BY occurred_at DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent auth events: %w", err)
	}
	defer rows.Close()

	var out []domain.AuthEventRow
	for rows.Next() {
		var r domain.AuthEventRow
		var occurred int64
		if err := rows.Scan(&r.ApiKey, &r.Domain, &occurred, &r.EventType); err != nil {
			return nil, fmt.Errorf("scan auth event: %w", err)
		}
		r.OccurredAt = time.Unix(occurred, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UsageReport aggregates domain_hourly_stats over [from, to] at the
// requested granularity.
func (s *SQLiteStore) UsageReport(ctx context.Context, from, to time.Time, granularity UsageGranularity) ([]UsageReportRow, error) {
	fromDate := from.UTC().Format("2006-01-02")
	toDate := to.UTC().Format("2006-01-02")

	if granularity == GranularityDay {
		rows, err := s.db.QueryContext(ctx, `
			SELECT date, domain,
			       SUM(sessions_started), SUM(sessions_ended), SUM(captions_sent),
			       SUM(captions_failed), SUM(batches_sent), MAX(peak_sessions)
			FROM domain_hourly_stats WHERE date BETWEEN ? AND ?
			GROUP BY date, domain ORDER BY date, domain`, fromDate, toDate)
		if err != nil {
			return nil, fmt.Errorf("query usage report (day): %w", err)
		}
		defer rows.Close()

		var out []UsageReportRow
		for rows.Next() {
			var r UsageReportRow
			r.Hour = -1
			if err := rows.Scan(&r.Date, &r.Domain, &r.SessionsStarted, &r.SessionsEnded, &r.CaptionsSent, &r.CaptionsFailed, &r.BatchesSent, &r.PeakSessions); err != nil {
				return nil, fmt.Errorf("scan usage report row: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, hour, domain, sessions_started, sessions_ended, captions_sent, captions_failed, batches_sent, peak_sessions
		FROM domain_hourly_stats WHERE date BETWEEN ? AND ?
		ORDER BY date, hour, domain`, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query usage report (hour): %w", err)
	}
	defer rows.Close()

	var out []UsageReportRow
	for rows.Next() {
		var r UsageReportRow
		if err := rows.Scan(&r.Date, &r.Hour, &r.Domain, &r.SessionsStarted, &r.SessionsEnded, &r.CaptionsSent, &r.CaptionsFailed, &r.BatchesSent, &r.PeakSessions); err != nil {
			return nil, fmt.Errorf("scan usage report row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
