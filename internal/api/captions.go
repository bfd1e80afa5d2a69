package api

import (
	"encoding/json"
	"net/http"

	"github.com/livecaption/relay/internal/delivery"
)

type captionInput struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
	TimeMs    *int64 `json:"time,omitempty"`
}

type captionsRequest struct {
	Captions []captionInput `json:"captions"`
}

// SubmitCaptions handles POST /captions. It responds 202 as soon as the
// submission is queued; delivery outcomes are reported asynchronously on
// the event stream, correlated by requestId.
func (h *Handler) SubmitCaptions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req captionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Captions) == 0 {
		Error(w, http.StatusBadRequest, "captions must be a non-empty array")
		return
	}

	inputs := make([]delivery.CaptionInput, 0, len(req.Captions))
	for _, c := range req.Captions {
		if c.Text == "" {
			Error(w, http.StatusBadRequest, "each caption requires text")
			return
		}
		inputs = append(inputs, delivery.CaptionInput{
			Text:      c.Text,
			Timestamp: c.Timestamp,
			TimeMs:    c.TimeMs,
		})
	}

	worker := h.workers.GetOrCreate(sess, h.repo)
	requestID, err := worker.Enqueue(inputs)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sess.Touch()
	JSON(w, http.StatusAccepted, map[string]any{"ok": true, "requestId": requestID})
}
