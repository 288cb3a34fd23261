package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iconidentify/reelgrabba/internal/repository"
)

// HistoryLister reads recent retrieval records.
type HistoryLister interface {
	ListRecent(ctx context.Context, limit int) ([]repository.Retrieval, error)
}

// HistoryHandler serves the retrieval history.
type HistoryHandler struct {
	history HistoryLister
	logger  *slog.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(history HistoryLister, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger,
	}
}

// ListResponse contains recent retrievals, newest first.
type ListResponse struct {
	Retrievals []repository.Retrieval `json:"retrievals"`
	Count      int                    `json:"count"`
}

// List handles GET /api/v1/retrievals.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	records, err := h.history.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list retrievals failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "failed to list retrievals"})
		return
	}

	if records == nil {
		records = []repository.Retrieval{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ListResponse{
		Retrievals: records,
		Count:      len(records),
	})
}
