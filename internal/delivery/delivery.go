// Package delivery implements the per-session FIFO delivery queue: one
// consumer goroutine per session serialises caption submissions to the
// upstream client and publishes outcomes on the session's event emitter.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/livecaption/relay/internal/domain"
	"github.com/livecaption/relay/internal/events"
	"github.com/livecaption/relay/internal/relayerr"
	"github.com/livecaption/relay/internal/sessionstore"
	"github.com/livecaption/relay/internal/store"
	"github.com/livecaption/relay/internal/upstream"
)

const queueDepth = 256

// CaptionInput is one caption as submitted over the wire, before timestamp
// resolution.
type CaptionInput struct {
	Text      string
	Timestamp string // RFC3339 or upstream-formatted; wins over Time if both present
	TimeMs    *int64 // milliseconds since the session's startedAt
}

// job is one accepted submission awaiting delivery.
type job struct {
	correlationID string
	captions      []CaptionInput
}

// Worker owns one session's FIFO job queue and its single consumer
// goroutine. While one job is in flight the next waits, guaranteeing at
// most one upstream POST per session concurrently and strict sequence
// monotonicity.
type Worker struct {
	session *sessionstore.Session
	repo    store.Repository
	queue   chan job
	done    chan struct{}
}

// NewWorker starts a consumer goroutine bound to sess and returns the
// handle used to enqueue submissions.
func NewWorker(ctx context.Context, sess *sessionstore.Session, repo store.Repository) *Worker {
	w := &Worker{
		session: sess,
		repo:    repo,
		queue:   make(chan job, queueDepth),
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Enqueue checks the submission is non-empty, mints a correlation id, and
// appends one job to the queue; timestamps are resolved later, at delivery. It never blocks on delivery: the
// caller gets back a correlation id to return in the synchronous 202
// immediately, before the upstream call happens.
func (w *Worker) Enqueue(captions []CaptionInput) (correlationID string, err error) {
	if len(captions) == 0 {
		return "", &relayerr.ValidationError{Field: "captions", Message: "must be a non-empty array"}
	}

	correlationID = uuid.NewString()
	select {
	case w.queue <- job{correlationID: correlationID, captions: captions}:
		return correlationID, nil
	default:
		return "", &relayerr.ValidationError{Field: "captions", Message: "session queue is full"}
	}
}

// Stop signals the consumer goroutine to exit once it drains in-flight
// work. Safe to call more than once.
func (w *Worker) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case j := <-w.queue:
			w.deliver(ctx, j)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, j job) {
	now := time.Now()

	if w.repo != nil {
		usage, err := w.repo.CheckAndIncrementUsage(ctx, w.session.ApiKey, int64(len(j.captions)), now)
		if err != nil {
			slog.Error("delivery: usage check failed", "session_id", w.session.ID, "error", err)
		} else if !usage.Granted {
			w.session.IncrementFailed(1)
			if appendErr := w.repo.AppendCaptionError(ctx, domain.CaptionErrorRow{
				SessionID:  w.session.ID,
				ApiKey:     w.session.ApiKey,
				OccurredAt: now,
				Error:      usage.Reason,
			}); appendErr != nil {
				slog.Error("delivery: failed to append usage-denied error row", "session_id", w.session.ID, "error", appendErr)
			}
			if rollupErr := w.repo.IncrementHourly(ctx, w.session.Domain, now, domain.HourlyRollup{CaptionsFailed: 1}); rollupErr != nil {
				slog.Error("delivery: failed to increment failed rollup", "session_id", w.session.ID, "error", rollupErr)
			}
			w.session.Events.Publish(events.Event{Name: "caption_error", Data: map[string]any{
				"correlationId": j.correlationID,
				"error":         usage.Reason,
			}})
			return
		}
	}

	items := make([]upstream.CaptionItem, 0, len(j.captions))
	for _, c := range j.captions {
		items = append(items, upstream.CaptionItem{
			Text:      c.Text,
			Timestamp: resolveTimestamp(c, w.session.StartedAt, w.session.SyncOffsetMillis()),
		})
	}

	var (
		result upstream.SendResult
		err    error
	)
	if len(items) == 1 {
		result, err = w.session.Upstream.Send(ctx, items[0])
	} else {
		result, err = w.session.Upstream.SendBatch(ctx, items)
	}
	now = time.Now()

	if err != nil {
		w.session.IncrementFailed(1)
		statusCode := 0
		if statusErr, ok := err.(*relayerr.UpstreamStatusError); ok {
			statusCode = statusErr.StatusCode
		}

		if w.repo != nil {
			if appendErr := w.repo.AppendCaptionError(ctx, domain.CaptionErrorRow{
				SessionID:  w.session.ID,
				ApiKey:     w.session.ApiKey,
				OccurredAt: now,
				Error:      err.Error(),
				StatusCode: statusCode,
			}); appendErr != nil {
				slog.Error("delivery: failed to append caption error row", "session_id", w.session.ID, "error", appendErr)
			}
			if rollupErr := w.repo.IncrementHourly(ctx, w.session.Domain, now, domain.HourlyRollup{CaptionsFailed: 1}); rollupErr != nil {
				slog.Error("delivery: failed to increment failed rollup", "session_id", w.session.ID, "error", rollupErr)
			}
		}

		payload := map[string]any{"correlationId": j.correlationID, "error": err.Error()}
		if statusCode != 0 {
			payload["statusCode"] = statusCode
		}
		w.session.Events.Publish(events.Event{Name: "caption_error", Data: payload})
		return
	}

	w.session.MirrorSequence(result.Sequence)
	w.session.Touch()
	w.session.IncrementDelivered(int64(result.Count))

	if w.repo != nil {
		rollup := domain.HourlyRollup{CaptionsSent: int64(result.Count)}
		if len(items) > 1 {
			rollup.BatchesSent = 1
		}
		if err := w.repo.IncrementHourly(ctx, w.session.Domain, now, rollup); err != nil {
			slog.Error("delivery: failed to increment sent rollup", "session_id", w.session.ID, "error", err)
		}
	}

	payload := map[string]any{
		"correlationId":   j.correlationID,
		"sequence":        result.Sequence,
		"serverTimestamp": result.ServerTimestamp,
	}
	if len(items) > 1 {
		payload["count"] = result.Count
	}
	w.session.Events.Publish(events.Event{Name: "caption_result", Data: payload})
}

// resolveTimestamp implements the tagged-variant resolver for a caption's
// optional timestamp/time fields: timestamp wins when both are present;
// time is milliseconds since the session started, adjusted by the
// session's estimated clock offset.
func resolveTimestamp(c CaptionInput, startedAt time.Time, syncOffsetMs int64) string {
	if c.Timestamp != "" {
		return c.Timestamp
	}
	if c.TimeMs != nil {
		resolved := startedAt.Add(time.Duration(*c.TimeMs) * time.Millisecond).Add(time.Duration(syncOffsetMs) * time.Millisecond)
		return resolved.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return ""
}
