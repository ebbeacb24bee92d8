package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rkendall/bracketbot/internal/domain"
)

// StatsProvider assembles the dashboard summary.
type StatsProvider interface {
	GetStats(ctx context.Context) (domain.Stats, error)
}

// StatsHandler serves the stats endpoint.
type StatsHandler struct {
	provider StatsProvider
	logger   *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(provider StatsProvider, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{provider: provider, logger: logger}
}

// Get returns today's and lifetime performance plus the live session figures.
// GET /api/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.provider.GetStats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to assemble stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
