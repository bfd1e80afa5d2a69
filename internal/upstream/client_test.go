package upstream

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/livecaption/relay/internal/relayerr"
)

func TestNewRejectsEmptyAndInvalidBaseURL(t *testing.T) {
	if _, err := New("", "stream1"); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := New("not-a-url", "stream1"); err == nil {
		t.Fatal("expected error for invalid base url")
	}
	var cfgErr *relayerr.ConfigError
	_, err := New("", "stream1")
	if !asConfigError(err, &cfgErr) {
		t.Fatalf("expected *relayerr.ConfigError, got %T", err)
	}
}

func asConfigError(err error, target **relayerr.ConfigError) bool {
	ce, ok := err.(*relayerr.ConfigError)
	if ok {
		*target = ce
	}
	return ok
}

func TestSendConsumesOneSequenceSlot(t *testing.T) {
	var seqs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seqs = append(seqs, r.URL.Query().Get("seq"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("2026-07-30T10:00:00.000"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "stream1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Send(t.Context(), CaptionItem{Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", res.Sequence)
	}

	res2, err := c.Send(t.Context(), CaptionItem{Text: "world"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res2.Sequence != 2 {
		t.Fatalf("expected sequence 2, got %d", res2.Sequence)
	}
	if len(seqs) != 2 || seqs[0] != "1" || seqs[1] != "2" {
		t.Fatalf("unexpected sequence params observed: %v", seqs)
	}
}

func TestSendBatchConsumesOneSequenceSlotForWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "stream1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.SendBatch(t.Context(), []CaptionItem{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if res.Sequence != 1 {
		t.Fatalf("expected one sequence slot consumed, got %d", res.Sequence)
	}
	if res.Count != 3 {
		t.Fatalf("expected count 3, got %d", res.Count)
	}
}

func TestSendBatchRejectsEmpty(t *testing.T) {
	c, err := New("http://example.invalid", "stream1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.SendBatch(t.Context(), nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestSendReturnsUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream refused"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "stream1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Send(t.Context(), CaptionItem{Text: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	statusErr, ok := err.(*relayerr.UpstreamStatusError)
	if !ok {
		t.Fatalf("expected *relayerr.UpstreamStatusError, got %T", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", statusErr.StatusCode)
	}
}

func TestFormatTimestampZSuffixIsParsedAndReformatted(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	got := formatTimestamp("2026-07-30T10:15:30.500Z", now)
	want := "2026-07-30T10:15:30.500"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatTimestampNonZSuffixIsVerbatim(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	raw := "not-a-real-timestamp"
	if got := formatTimestamp(raw, now); got != raw {
		t.Fatalf("expected verbatim passthrough, got %q", got)
	}
}

func TestFormatTimestampEmptyDerivesFromNow(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	got := formatTimestamp("", now)
	want := now.Format(timestampLayout)
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSyncMeasuresOffsetAndRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(time.Now().UTC().Format(timestampLayout)))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "stream1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Sync(t.Context())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.RoundTripTimeMillis < 0 {
		t.Fatalf("expected non-negative round trip, got %d", res.RoundTripTimeMillis)
	}
}
