package api

import (
	"net/http"
	"time"

	"github.com/livecaption/relay/internal/store"
)

// Usage handles GET /usage: per-domain aggregate over a date range, gated
// behind the admin header unless USAGE_PUBLIC is set.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.UsagePublic && !h.requireAdmin(w, r) {
		return
	}

	from, to, err := parseDateRange(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	granularity := store.GranularityDay
	if r.URL.Query().Get("granularity") == "hour" {
		granularity = store.GranularityHour
	}

	report, err := h.repo.UsageReport(r.Context(), from, to, granularity)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to build usage report")
		return
	}
	JSON(w, http.StatusOK, report)
}

func parseDateRange(r *http.Request) (from, to time.Time, err error) {
	const layout = "2006-01-02"
	to = time.Now().UTC()
	from = to.AddDate(0, 0, -7)

	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse(layout, raw)
		if err != nil {
			return from, to, errInvalidDate("from")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err = time.Parse(layout, raw)
		if err != nil {
			return from, to, errInvalidDate("to")
		}
	}
	return from, to, nil
}

type errInvalidDate string

func (e errInvalidDate) Error() string { return string(e) + " must be YYYY-MM-DD" }
