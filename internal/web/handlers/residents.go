package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
)

// ResidentsHandler exposes the loaded resident snapshot.
type ResidentsHandler struct {
	gate   Gate
	logger *zap.Logger
}

// NewResidentsHandler creates a new residents handler
func NewResidentsHandler(g Gate, logger *zap.Logger) *ResidentsHandler {
	return &ResidentsHandler{gate: g, logger: logging.OrNop(logger)}
}

// ResidentResponse describes a resident without its embedding.
type ResidentResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ImagePath string    `json:"image_path,omitempty"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// List handles GET /api/v1/residents
func (h *ResidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	residents := h.gate.Residents()
	out := make([]ResidentResponse, 0, len(residents))
	for _, res := range residents {
		out = append(out, ResidentResponse{
			ID:        res.ID,
			Name:      res.Name,
			ImagePath: res.ImagePath,
			Dim:       len(res.Embedding),
			CreatedAt: res.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// Reload handles POST /api/v1/residents/reload
func (h *ResidentsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	n, err := h.gate.ReloadResidents(r.Context())
	if err != nil {
		h.logger.Error("resident reload failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to reload residents")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"residents": n})
}
