package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
)

// maxEventLimit caps a single events page.
const maxEventLimit = 1000

// EventsHandler lists the access log.
type EventsHandler struct {
	events database.AccessLog
	logger *zap.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(events database.AccessLog, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{events: events, logger: logging.OrNop(logger)}
}

// List handles GET /api/v1/events?limit=&since=&kind=&label=
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", constants.DefaultEventLimit, maxEventLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	filter := database.EventFilter{Limit: limit, Label: r.URL.Query().Get("label")}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	switch kind := database.SubjectKind(r.URL.Query().Get("kind")); kind {
	case "", database.SubjectResident, database.SubjectVisitor:
		filter.SubjectKind = kind
	default:
		respondError(w, http.StatusBadRequest, "kind must be resident or visitor")
		return
	}

	events, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("list events failed", zap.String("label", sanitizeForLog(filter.Label)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []database.AccessEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}
