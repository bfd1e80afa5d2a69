package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/livecaption/relay/internal/domain"
	"github.com/livecaption/relay/internal/events"
	"github.com/livecaption/relay/internal/sessionstore"
	"github.com/livecaption/relay/internal/store"
	"github.com/livecaption/relay/internal/upstream"
)

// fakeRepo is a minimal in-memory stand-in for store.Repository, recording
// only what the delivery worker touches.
type fakeRepo struct {
	store.Repository

	mu        sync.Mutex
	granted   bool
	denyOnce  bool
	errors    []domain.CaptionErrorRow
	hourly    []domain.HourlyRollup
}

func (f *fakeRepo) CheckAndIncrementUsage(ctx context.Context, key string, count int64, at time.Time) (store.UsageCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyOnce {
		f.denyOnce = false
		return store.UsageCheckResult{Granted: false, Reason: "daily_limit_exceeded"}, nil
	}
	return store.UsageCheckResult{Granted: true}, nil
}

func (f *fakeRepo) AppendCaptionError(ctx context.Context, row domain.CaptionErrorRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, row)
	return nil
}

func (f *fakeRepo) IncrementHourly(ctx context.Context, domainName string, at time.Time, delta domain.HourlyRollup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hourly = append(f.hourly, delta)
	return nil
}

func newTestSession(t *testing.T, baseURL string) *sessionstore.Session {
	t.Helper()
	client, err := upstream.New(baseURL, "stream1")
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}
	s := sessionstore.New(nil, time.Hour, time.Hour)
	sess, _ := s.Create("key1", "stream1", "example.com", "tok1", client)
	return sess
}

func waitForEvent(t *testing.T, ch <-chan events.IDEvent, name string) events.IDEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Event.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", name)
		}
	}
}

func TestEnqueueDeliversInFIFOOrderAndPublishesResults(t *testing.T) {
	var mu sync.Mutex
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, 0)
		buf := make([]byte, 4096)
		for {
			n, err := r.Body.Read(buf)
			body = append(body, buf[:n]...)
			if err != nil {
				break
			}
		}
		mu.Lock()
		received = append(received, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	ch, _ := sess.Events.Subscribe()
	repo := &fakeRepo{}

	w := NewWorker(context.Background(), sess, repo)
	defer w.Stop()

	if _, err := w.Enqueue([]CaptionInput{{Text: "first"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := w.Enqueue([]CaptionInput{{Text: "second"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForEvent(t, ch, "caption_result")
	waitForEvent(t, ch, "caption_result")

	delivered, failed := sess.Counters()
	if delivered != 2 || failed != 0 {
		t.Fatalf("expected 2 delivered, 0 failed, got delivered=%d failed=%d", delivered, failed)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 upstream POSTs, got %d", len(received))
	}
	if !strings.HasSuffix(received[0], "\nfirst") || !strings.HasSuffix(received[1], "\nsecond") {
		t.Fatalf("expected upstream POSTs in submission order, got %q", received)
	}
}

func TestEnqueueRejectsEmptyCaptions(t *testing.T) {
	sess := newTestSession(t, "http://upstream.invalid")
	w := NewWorker(context.Background(), sess, &fakeRepo{})
	defer w.Stop()

	if _, err := w.Enqueue(nil); err == nil {
		t.Fatal("expected error for empty captions")
	}
}

func TestUsageDenialShortCircuitsBeforeUpstreamCall(t *testing.T) {
	var upstreamCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	ch, _ := sess.Events.Subscribe()
	repo := &fakeRepo{denyOnce: true}

	w := NewWorker(context.Background(), sess, repo)
	defer w.Stop()

	if _, err := w.Enqueue([]CaptionInput{{Text: "hello"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ev := waitForEvent(t, ch, "caption_error")
	payload, ok := ev.Event.Data.(map[string]any)
	if !ok || payload["error"] != "daily_limit_exceeded" {
		t.Fatalf("expected daily_limit_exceeded caption_error, got %+v", ev.Event.Data)
	}
	if upstreamCalled {
		t.Fatal("expected upstream to not be called when usage is denied")
	}

	_, failed := sess.Counters()
	if failed != 1 {
		t.Fatalf("expected failed counter to be 1, got %d", failed)
	}
}

func TestFailedDeliveryDoesNotStopSubsequentJobs(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	ch, _ := sess.Events.Subscribe()
	repo := &fakeRepo{}

	w := NewWorker(context.Background(), sess, repo)
	defer w.Stop()

	if _, err := w.Enqueue([]CaptionInput{{Text: "fails"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForEvent(t, ch, "caption_error")

	if _, err := w.Enqueue([]CaptionInput{{Text: "succeeds"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForEvent(t, ch, "caption_result")

	delivered, failed := sess.Counters()
	if delivered != 1 || failed != 1 {
		t.Fatalf("expected delivered=1 failed=1, got delivered=%d failed=%d", delivered, failed)
	}
}

func TestRegistryGetOrCreateReusesWorker(t *testing.T) {
	sess := newTestSession(t, "http://upstream.invalid")
	reg := NewRegistry(context.Background())

	w1 := reg.GetOrCreate(sess, &fakeRepo{})
	w2 := reg.GetOrCreate(sess, &fakeRepo{})
	if w1 != w2 {
		t.Fatal("expected GetOrCreate to return the same worker for the same session")
	}

	reg.Remove(sess.ID)
	w3 := reg.GetOrCreate(sess, &fakeRepo{})
	if w3 == w1 {
		t.Fatal("expected a fresh worker after Remove")
	}
}
