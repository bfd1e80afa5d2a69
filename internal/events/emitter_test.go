package events

import (
	"testing"
	"time"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	e := NewEmitter()
	ch1, _ := e.Subscribe()
	ch2, _ := e.Subscribe()

	e.Publish(Event{Name: "caption_result", Data: "hello"})

	for _, ch := range []<-chan IDEvent{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Event.Name != "caption_result" {
				t.Fatalf("unexpected event name: %q", got.Event.Name)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out")
		}
	}
}

func TestPublishToFullSubscriberDoesNotBlockOthers(t *testing.T) {
	e := NewEmitter()
	slow, _ := e.Subscribe()
	fast, _ := e.Subscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		e.Publish(Event{Name: "caption_result", Data: i})
	}

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber should have received at least one event")
	}
	_ = slow
}

func TestCloseDeliversFinalEventLastAndClosesChannel(t *testing.T) {
	e := NewEmitter()
	ch, _ := e.Subscribe()

	e.Publish(Event{Name: "caption_result", Data: "one"})
	e.Close(Event{Name: "session_closed"})

	var last Event
	for ev := range ch {
		last = ev.Event
	}
	if last.Name != "session_closed" {
		t.Fatalf("expected session_closed to be the last event, got %q", last.Name)
	}
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	e := NewEmitter()
	e.Close(Event{Name: "session_closed"})

	if id := e.Publish(Event{Name: "caption_result"}); id != 0 {
		t.Fatalf("expected publish after close to be a no-op, got id %d", id)
	}
}

func TestReplayReturnsOnlyEventsAfterID(t *testing.T) {
	e := NewEmitter()
	id1 := e.Publish(Event{Name: "a"})
	e.Publish(Event{Name: "b"})
	e.Publish(Event{Name: "c"})

	missed := e.Replay(id1)
	if len(missed) != 2 {
		t.Fatalf("expected 2 missed events, got %d", len(missed))
	}
	if missed[0].Event.Name != "b" || missed[1].Event.Name != "c" {
		t.Fatalf("unexpected replay order: %+v", missed)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	e := NewEmitter()
	ch, unsubscribe := e.Subscribe()
	unsubscribe()

	_, open := <-ch
	if open {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
