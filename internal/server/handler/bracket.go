package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rkendall/bracketbot/internal/domain"
)

// BracketEngine is the slice of the trading engine the bracket endpoints
// need: reads plus the one operator-initiated mutation, a manual flatten.
type BracketEngine interface {
	GetOpenBrackets(ctx context.Context) ([]domain.Bracket, error)
	GetBracketByID(ctx context.Context, id string) (domain.Bracket, error)
	FlattenBracket(ctx context.Context, id string, saleProceeds float64, reason string) (domain.Bracket, error)
}

// BracketHandler serves the bracket endpoints.
type BracketHandler struct {
	engine BracketEngine
	logger *slog.Logger
}

// NewBracketHandler creates a BracketHandler.
func NewBracketHandler(engine BracketEngine, logger *slog.Logger) *BracketHandler {
	return &BracketHandler{engine: engine, logger: logger}
}

// ListOpen returns all live brackets.
// GET /api/brackets/open
func (h *BracketHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	brackets, err := h.engine.GetOpenBrackets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list open brackets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list brackets")
		return
	}
	if brackets == nil {
		brackets = []domain.Bracket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"brackets": brackets,
		"count":    len(brackets),
	})
}

// Get returns a single bracket by ID.
// GET /api/brackets/{id}
func (h *BracketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := h.engine.GetBracketByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bracket not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get bracket failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get bracket")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// flattenRequest is the body for a manual flatten.
type flattenRequest struct {
	SaleProceeds float64 `json:"sale_proceeds"`
	Reason       string  `json:"reason"`
}

// Flatten force-exits a live bracket on operator request.
// POST /api/brackets/{id}/flatten
func (h *BracketHandler) Flatten(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req flattenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	b, err := h.engine.FlattenBracket(r.Context(), id, req.SaleProceeds, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "bracket not found")
		case errors.Is(err, domain.ErrInvalidState):
			writeError(w, http.StatusConflict, "bracket already settled")
		default:
			h.logger.ErrorContext(r.Context(), "flatten failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to flatten bracket")
		}
		return
	}
	writeJSON(w, http.StatusOK, b)
}
