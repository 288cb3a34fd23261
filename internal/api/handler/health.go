package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	artifactRoot string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(artifactRoot string) *HealthHandler {
	return &HealthHandler{artifactRoot: artifactRoot}
}

// Live handles GET /health.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles GET /ready. The service is ready when the artifact root
// is writable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	probe := filepath.Join(h.artifactRoot, ".ready-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "unavailable",
			"reason": "artifact root not writable",
		})
		return
	}
	os.Remove(probe)

	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
