// Package upstream builds wire bodies for the third-party caption-ingestion
// endpoint and issues the POSTs. It holds no session state beyond a single
// monotonic sequence counter; ordering across sessions is the caller's job.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/livecaption/relay/internal/relayerr"
)

const timestampLayout = "2006-01-02T15:04:05.000"

// CaptionItem is one caption to submit. Timestamp is an optional
// caller-supplied string: an RFC3339 value ending in "Z" is parsed and
// reformatted; any other non-empty value is used verbatim (see the
// verbatim-passthrough note on formatTimestamp below); empty means "derive
// from now". Region/Cue are optional wire metadata, present for callers
// that supply them; the relay's own caption-submission contract never sets
// them today.
type CaptionItem struct {
	Text      string
	Timestamp string
	Region    string
	Cue       string
}

// SendResult is returned by Send and SendBatch.
type SendResult struct {
	Sequence        uint64
	ServerTimestamp string
	StatusCode      int
	Count           int
}

// HeartbeatResult is returned by Heartbeat. It does not advance Sequence.
type HeartbeatResult struct {
	Sequence        uint64
	ServerTimestamp string
}

// SyncResult is returned by Sync.
type SyncResult struct {
	SyncOffsetMillis   int64
	RoundTripTimeMillis int64
	ServerTimestamp    string
	StatusCode         int
}

// Client issues ordered POSTs to one upstream stream endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	sequence   atomic.Uint64
}

// New builds a Client targeting baseURL/streamKey. An empty or unparsable
// baseURL is a configuration error — there is nothing to forward to.
func New(baseURL, streamKey string) (*Client, error) {
	if baseURL == "" {
		return nil, &relayerr.ConfigError{Message: "upstream base url is not configured"}
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &relayerr.ConfigError{Message: "upstream base url is invalid: " + baseURL}
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(streamKey)

	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   endpoint,
	}, nil
}

// Start arms the client for use. The upstream requires no handshake beyond
// the first sequenced POST, so this only exists to mirror the spec's
// session-lifecycle shape (construct, start, send..., end).
func (c *Client) Start(ctx context.Context) error {
	return nil
}

// GetSequence returns the last sequence value consumed.
func (c *Client) GetSequence() uint64 {
	return c.sequence.Load()
}

// SetSequence overrides the sequence counter, e.g. on session recovery.
func (c *Client) SetSequence(n uint64) {
	c.sequence.Store(n)
}

// Send submits one caption and consumes one sequence slot.
func (c *Client) Send(ctx context.Context, item CaptionItem) (SendResult, error) {
	body := formatCaptionBody(item, time.Now().UTC())
	seq := c.sequence.Add(1)
	status, respBody, err := c.post(ctx, seq, body)
	if err != nil {
		return SendResult{}, err
	}
	if status < 200 || status >= 300 {
		return SendResult{}, &relayerr.UpstreamStatusError{StatusCode: status, Body: respBody}
	}
	return SendResult{Sequence: seq, ServerTimestamp: respBody, StatusCode: status, Count: 1}, nil
}

// SendBatch submits N>=1 captions as one upstream POST, consuming exactly
// one sequence slot for the whole batch. Items without an explicit
// timestamp are auto-stamped at now + 100ms*i to keep ordering strict.
func (c *Client) SendBatch(ctx context.Context, items []CaptionItem) (SendResult, error) {
	if len(items) == 0 {
		return SendResult{}, &relayerr.ValidationError{Field: "captions", Message: "batch must not be empty"}
	}
	now := time.Now().UTC()
	bodies := make([]string, 0, len(items))
	for i, item := range items {
		stamped := item
		if stamped.Timestamp == "" {
			stamped.Timestamp = now.Add(time.Duration(i) * 100 * time.Millisecond).Format(timestampLayout)
		}
		bodies = append(bodies, formatCaptionBody(stamped, now))
	}
	body := strings.Join(bodies, "\n")

	seq := c.sequence.Add(1)
	status, respBody, err := c.post(ctx, seq, body)
	if err != nil {
		return SendResult{}, err
	}
	if status < 200 || status >= 300 {
		return SendResult{}, &relayerr.UpstreamStatusError{StatusCode: status, Body: respBody}
	}
	return SendResult{Sequence: seq, ServerTimestamp: respBody, StatusCode: status, Count: len(items)}, nil
}

// Heartbeat round-trips a liveness ping without consuming a sequence slot.
func (c *Client) Heartbeat(ctx context.Context) (HeartbeatResult, error) {
	status, respBody, err := c.post(ctx, c.sequence.Load(), "")
	if err != nil {
		return HeartbeatResult{}, err
	}
	if status < 200 || status >= 300 {
		return HeartbeatResult{}, &relayerr.UpstreamStatusError{StatusCode: status, Body: respBody}
	}
	return HeartbeatResult{Sequence: c.sequence.Load(), ServerTimestamp: respBody}, nil
}

// Sync measures one-way clock offset and round-trip time via a heartbeat.
func (c *Client) Sync(ctx context.Context) (SyncResult, error) {
	sendTime := time.Now().UTC()
	hb, err := c.Heartbeat(ctx)
	receiveTime := time.Now().UTC()
	if err != nil {
		return SyncResult{}, err
	}

	rtt := receiveTime.Sub(sendTime)
	offset := int64(0)
	if serverTime, parseErr := time.Parse(timestampLayout, hb.ServerTimestamp); parseErr == nil {
		midpoint := sendTime.Add(rtt / 2)
		offset = serverTime.UTC().Sub(midpoint).Milliseconds()
	}

	return SyncResult{
		SyncOffsetMillis:    offset,
		RoundTripTimeMillis: rtt.Milliseconds(),
		ServerTimestamp:     hb.ServerTimestamp,
		StatusCode:          http.StatusOK,
	}, nil
}

// End releases the client's idle connections. It sends nothing to the
// upstream. Best-effort: callers must not block session teardown on its
// result.
func (c *Client) End(ctx context.Context) error {
	return c.Close()
}

// Close releases the underlying transport's idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) post(ctx context.Context, seq uint64, body string) (int, string, error) {
	target := c.endpoint + "?seq=" + strconv.FormatUint(seq, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(body))
	if err != nil {
		return 0, "", &relayerr.ConfigError{Message: fmt.Sprintf("build upstream request: %v", err)}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", &relayerr.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, "", &relayerr.NetworkError{Cause: err}
	}

	return resp.StatusCode, strings.TrimSpace(string(respBody)), nil
}

// formatCaptionBody renders one caption's wire body: a timestamp line
// (optionally suffixed with region:<region>#<cue>), a newline, then text.
func formatCaptionBody(item CaptionItem, now time.Time) string {
	ts := formatTimestamp(item.Timestamp, now)
	if item.Region != "" {
		ts += " region:" + item.Region + "#" + item.Cue
	}
	return ts + "\n" + item.Text
}

// formatTimestamp renders raw into the upstream's required
// "YYYY-MM-DDTHH:MM:SS.mmm" shape.
//
// If raw ends in "Z" it is parsed as RFC3339 and reformatted. If raw is
// non-empty and does NOT end in "Z" it is returned verbatim: the upstream's
// documented wire format has no timezone suffix at all, so a non-"Z" string
// already matches the expected shape in the common case, but this branch
// also fires for malformed input the caller never validated. Flagged per
// the open design question — preserved as observed, not "fixed" by
// inventing a timezone policy.
func formatTimestamp(raw string, now time.Time) string {
	if raw == "" {
		return now.Format(timestampLayout)
	}
	if strings.HasSuffix(raw, "Z") {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.UTC().Format(timestampLayout)
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC().Format(timestampLayout)
		}
		return now.Format(timestampLayout)
	}
	return raw
}
