package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// Serve writes SSE frames from sub to w until the request context is
// cancelled or the emitter closes the subscriber's channel. It writes the
// connected frame first (with connectedData as its payload), replays any
// buffered events newer than lastEventID, then blocks relaying live events.
// Headers disable intermediary buffering, per the spec's streaming
// contract. Serve subscribes to emitter itself and unsubscribes on return.
func Serve(ctx context.Context, w http.ResponseWriter, emitter *Emitter, lastEventID int64, connectedData any) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub, unsubscribe := emitter.Subscribe()
	defer unsubscribe()

	if err := writeFrame(w, 0, "connected", connectedData); err != nil {
		return err
	}
	flusher.Flush()

	if lastEventID > 0 {
		for _, missed := range emitter.Replay(lastEventID) {
			if err := writeFrame(w, missed.ID, missed.Event.Name, missed.Event.Data); err != nil {
				return err
			}
		}
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case idEvent, open := <-sub:
			if !open {
				return nil
			}
			if err := writeFrame(w, idEvent.ID, idEvent.Event.Name, idEvent.Event.Data); err != nil {
				return err
			}
			flusher.Flush()
			if idEvent.Event.Name == "session_closed" {
				return nil
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, id int64, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	prefix := ""
	if id > 0 {
		prefix = "id: " + strconv.FormatInt(id, 10) + "\n"
	}
	_, err = fmt.Fprintf(w, "%sevent: %s\ndata: %s\n\n", prefix, name, payload)
	return err
}
