package handlers

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/analytics"
	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/gate"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
)

const statsCacheTTL = time.Minute

// statsCache holds the last report with expiry
type statsCache struct {
	mu        sync.RWMutex
	key       string
	data      *analytics.Report
	expiresAt time.Time
}

func (c *statsCache) get(key string, now time.Time) (*analytics.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || c.key != key || now.After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(key string, data *analytics.Report, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.data = data
	c.expiresAt = now.Add(statsCacheTTL)
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	gate   Gate
	stats  database.StatsReader
	logger *zap.Logger
	clock  func() time.Time
	cache  statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(g Gate, stats database.StatsReader, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		gate:   g,
		stats:  stats,
		logger: logging.OrNop(logger),
		clock:  time.Now,
	}
}

// StatsResponse is the session counters plus the access log report
type StatsResponse struct {
	Session gate.Stats        `json:"session"`
	Report  *analytics.Report `json:"report"`
}

// Get handles GET /api/v1/stats?days=&top=
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(r, "days", constants.DefaultReportDays, 366)
	if !ok {
		respondError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	top, ok := queryInt(r, "top", constants.DefaultTopResidents, 100)
	if !ok {
		respondError(w, http.StatusBadRequest, "top must be a positive integer")
		return
	}

	now := h.clock()
	key := fmt.Sprintf("%d/%d", days, top)
	report, cached := h.cache.get(key, now)
	if !cached {
		var err error
		report, err = analytics.Build(r.Context(), h.stats, now, analytics.Options{Days: days, Top: top})
		if err != nil {
			h.logger.Error("build report failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to build report")
			return
		}
		h.cache.set(key, report, now)
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Session: h.gate.Stats(),
		Report:  report,
	})
}
