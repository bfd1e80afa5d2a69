package api

import (
	"context"
	"sync"
	"time"

	"github.com/livecaption/relay/internal/config"
	"github.com/livecaption/relay/internal/delivery"
	"github.com/livecaption/relay/internal/domain"
	"github.com/livecaption/relay/internal/identity"
	"github.com/livecaption/relay/internal/sessionstore"
	"github.com/livecaption/relay/internal/store"
)

// fakeRepo is an in-memory stand-in for store.Repository used across the
// handler tests in this package.
type fakeRepo struct {
	mu         sync.Mutex
	keys       map[string]*domain.ApiKey
	keysByMail map[string]*domain.ApiKey
	authEvents []domain.AuthEventRow
	usage      store.UsageCheckResult
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		keys:       make(map[string]*domain.ApiKey),
		keysByMail: make(map[string]*domain.ApiKey),
		usage:      store.UsageCheckResult{Granted: true},
	}
}

func (f *fakeRepo) CreateKey(ctx context.Context, key *domain.ApiKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key.Key] = key
	if key.Email != "" {
		f.keysByMail[key.Email] = key
	}
	return nil
}

func (f *fakeRepo) GetKey(ctx context.Context, key string) (*domain.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key], nil
}

func (f *fakeRepo) GetKeyByEmail(ctx context.Context, email string) (*domain.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keysByMail[email], nil
}

func (f *fakeRepo) ListKeys(ctx context.Context) ([]*domain.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.ApiKey, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeRepo) UpdateKey(ctx context.Context, key *domain.ApiKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key.Key] = key
	return nil
}

func (f *fakeRepo) RevokeKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[key]; ok {
		k.Active = false
		now := time.Now()
		k.RevokedAt = &now
	}
	return nil
}

func (f *fakeRepo) DeleteKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeRepo) CheckAndIncrementUsage(ctx context.Context, key string, count int64, at time.Time) (store.UsageCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, nil
}

func (f *fakeRepo) Anonymise(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[key]; ok {
		k.Owner = ""
		k.Active = false
	}
	return nil
}

func (f *fakeRepo) CleanRevoked(ctx context.Context, olderThan time.Duration, dryRun bool) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) AppendSessionStats(ctx context.Context, row domain.SessionStatsRow) error {
	return nil
}

func (f *fakeRepo) AppendCaptionError(ctx context.Context, row domain.CaptionErrorRow) error {
	return nil
}

func (f *fakeRepo) AppendAuthEvent(ctx context.Context, row domain.AuthEventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authEvents = append(f.authEvents, row)
	return nil
}

func (f *fakeRepo) IncrementHourly(ctx context.Context, domainName string, at time.Time, delta domain.HourlyRollup) error {
	return nil
}

func (f *fakeRepo) Stats(ctx context.Context, key string) (store.KeyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return store.KeyStats{Key: f.keys[key]}, nil
}

func (f *fakeRepo) UsageReport(ctx context.Context, from, to time.Time, granularity store.UsageGranularity) ([]store.UsageReportRow, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeRepo) Close() error                   { return nil }

func newTestHandler() (*Handler, *fakeRepo) {
	repo := newFakeRepo()
	sessions := sessionstore.New(repo, time.Hour, time.Hour)
	workers := delivery.NewRegistry(context.Background())
	issuer := identity.NewTokenIssuer("test-secret")
	allowlist := identity.NewDomainAllowlist("*")
	cfg := &config.Config{
		UpstreamBaseURL:     "http://upstream.invalid",
		MaxRequestBodyBytes: 64 * 1024,
		AdminKey:            "admin-secret",
	}
	h := NewHandler(repo, sessions, workers, issuer, allowlist, cfg)
	return h, repo
}
