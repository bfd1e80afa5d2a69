package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestServeWritesConnectedFrameAndLiveEvents(t *testing.T) {
	e := NewEmitter()
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = Serve(ctx, rec, e, 0, map[string]string{"sessionId": "sess1"})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	e.Publish(Event{Name: "caption_result", Data: map[string]string{"text": "hi"}})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Fatalf("expected connected frame, got: %s", body)
	}
	if !strings.Contains(body, "event: caption_result") {
		t.Fatalf("expected caption_result frame, got: %s", body)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", rec.Header().Get("Content-Type"))
	}
}

func TestServeReturnsAfterSessionClosed(t *testing.T) {
	e := NewEmitter()
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		_ = Serve(context.Background(), rec, e, 0, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	e.Close(Event{Name: "session_closed"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after session_closed")
	}

	if !strings.Contains(rec.Body.String(), "event: session_closed") {
		t.Fatalf("expected session_closed frame, got: %s", rec.Body.String())
	}
}

func TestServeReplaysMissedEventsByLastEventID(t *testing.T) {
	e := NewEmitter()
	id1 := e.Publish(Event{Name: "a"})
	e.Publish(Event{Name: "b"})

	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = Serve(ctx, rec, e, id1, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, "event: a") {
		t.Fatalf("did not expect replay of event already seen by the client: %s", body)
	}
	if !strings.Contains(body, "event: b") {
		t.Fatalf("expected replay of missed event b: %s", body)
	}
}
