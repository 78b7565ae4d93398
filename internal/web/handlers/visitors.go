package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
)

// VisitorsHandler exposes the live visitor store.
type VisitorsHandler struct {
	gate   Gate
	ttl    time.Duration
	logger *zap.Logger
}

// NewVisitorsHandler creates a new visitors handler
func NewVisitorsHandler(g Gate, ttl time.Duration, logger *zap.Logger) *VisitorsHandler {
	return &VisitorsHandler{gate: g, ttl: ttl, logger: logging.OrNop(logger)}
}

// VisitorResponse describes one live visitor.
type VisitorResponse struct {
	ID          int64     `json:"id"`
	Token       string    `json:"token"`
	Label       string    `json:"label"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// List handles GET /api/v1/visitors
func (h *VisitorsHandler) List(w http.ResponseWriter, r *http.Request) {
	visitors := h.gate.Visitors()
	out := make([]VisitorResponse, 0, len(visitors))
	for _, v := range visitors {
		out = append(out, VisitorResponse{
			ID:          v.ID,
			Token:       v.Token,
			Label:       v.Label(),
			FirstSeenAt: v.FirstSeenAt,
			LastSeenAt:  v.LastSeenAt,
			ExpiresAt:   v.LastSeenAt.Add(h.ttl),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// Sweep handles POST /api/v1/visitors/sweep
func (h *VisitorsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.gate.Sweep(r.Context())
	if err != nil {
		h.logger.Error("manual sweep failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	respondJSON(w, http.StatusOK, report)
}
