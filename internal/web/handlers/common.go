package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/gate"
	"github.com/NicoCuadrado/Barrio-seguro/internal/recorder"
	"github.com/NicoCuadrado/Barrio-seguro/internal/visitor"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Gate is the slice of a gate session the HTTP surface drives.
type Gate interface {
	Process(ctx context.Context, frame gate.Frame) (gate.FrameResult, error)
	Sweep(ctx context.Context) (recorder.SweepReport, error)
	ReloadResidents(ctx context.Context) (int, error)
	Visitors() []visitor.Visitor
	Residents() []database.Resident
	Stats() gate.Stats
}

// EventStore reads the access log and its aggregates.
type EventStore interface {
	database.AccessLog
	database.StatsReader
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// queryInt reads a positive integer query parameter, clamped to max when max > 0.
func queryInt(r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	if max > 0 && v > max {
		v = max
	}
	return v, true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
