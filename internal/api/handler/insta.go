package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/iconidentify/reelgrabba/internal/domain"
	"github.com/iconidentify/reelgrabba/internal/retrieval"
)

// Retriever drives one post retrieval end to end.
type Retriever interface {
	Retrieve(ctx context.Context, postURL string) (*retrieval.Result, error)
}

// InstaHandler handles post download requests.
type InstaHandler struct {
	retriever Retriever
	logger    *slog.Logger
}

// NewInstaHandler creates a new download handler.
func NewInstaHandler(retriever Retriever, logger *slog.Logger) *InstaHandler {
	return &InstaHandler{
		retriever: retriever,
		logger:    logger,
	}
}

// DownloadRequest is the JSON request body.
type DownloadRequest struct {
	URL string `json:"url"`
}

// DownloadData is the success payload.
type DownloadData struct {
	Play           string `json:"play"`
	Title          string `json:"title"`
	AuthorUsername string `json:"authorUsername,omitempty"`
}

// DownloadResponse wraps the success payload.
type DownloadResponse struct {
	Data DownloadData `json:"data"`
}

// Download handles POST /insta.
func (h *InstaHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !isValidURL(req.URL) {
		h.writeError(w, http.StatusBadRequest, "url must be a valid URL")
		return
	}

	result, err := h.retriever.Retrieve(r.Context(), req.URL)
	if err != nil {
		h.writeRetrievalError(w, req.URL, err)
		return
	}

	h.writeJSON(w, http.StatusOK, DownloadResponse{
		Data: DownloadData{
			Play:           result.PlayURL,
			Title:          result.Title,
			AuthorUsername: result.AuthorUsername,
		},
	})
}

// writeRetrievalError maps the failure classification onto a stable
// status code. The caller never sees a raw collaborator error.
func (h *InstaHandler) writeRetrievalError(w http.ResponseWriter, postURL string, err error) {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		h.writeError(w, http.StatusBadRequest, "could not parse shortcode from URL; ensure it is a valid Instagram post or reel URL")
	case domain.KindUpstreamRejected:
		h.writeError(w, http.StatusNotFound, "post not found, private, or has no video")
	case domain.KindRateLimited:
		h.writeError(w, http.StatusTooManyRequests, "rate limited by Instagram, please try again later")
	case domain.KindUpstreamUnavailable:
		h.logger.Error("retrieval failed", "url", postURL, "error", err)
		h.writeError(w, http.StatusBadGateway, "could not reach upstream")
	case domain.KindTranscodeFailed:
		h.logger.Error("transcode failed", "url", postURL, "error", err)
		h.writeError(w, http.StatusInternalServerError, "video processing failed")
	default:
		h.logger.Error("retrieval failed unexpectedly", "url", postURL, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *InstaHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *InstaHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
