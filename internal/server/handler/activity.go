package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rkendall/bracketbot/internal/domain"
)

// ActivitySource queries the durable activity history.
type ActivitySource interface {
	Query(ctx context.Context, f domain.ActivityFilter) ([]domain.ActivityRecord, error)
}

// ActivityHandler serves the activity history endpoint.
type ActivityHandler struct {
	source ActivitySource
	logger *slog.Logger
}

// NewActivityHandler creates an ActivityHandler.
func NewActivityHandler(source ActivitySource, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{source: source, logger: logger}
}

// List returns activity records, newest first, filtered by the query string.
// GET /api/activity?slug=...&action=...&since=...&limit=...&offset=...
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ActivityFilter{
		Slug:   q.Get("slug"),
		Action: q.Get("action"),
		Limit:  queryInt(r, "limit", 50, 500),
		Offset: queryInt(r, "offset", 0, 0),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be RFC3339")
			return
		}
		filter.Until = &t
	}

	records, err := h.source.Query(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activity query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to query activity")
		return
	}
	if records == nil {
		records = []domain.ActivityRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}
