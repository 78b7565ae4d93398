package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/NicoCuadrado/Barrio-seguro/internal/web/handlers"
	"github.com/NicoCuadrado/Barrio-seguro/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	framesHandler := handlers.NewFramesHandler(s.deps.Gate, s.logger)
	visitorsHandler := handlers.NewVisitorsHandler(s.deps.Gate, s.deps.VisitorTTL, s.logger)
	eventsHandler := handlers.NewEventsHandler(s.deps.Events, s.logger)
	residentsHandler := handlers.NewResidentsHandler(s.deps.Gate, s.logger)
	statsHandler := handlers.NewStatsHandler(s.deps.Gate, s.deps.Events, s.logger)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(s.config.APIKey))

		// Detection ingest
		r.Post("/frames", framesHandler.Process)

		// Visitors
		r.Get("/visitors", visitorsHandler.List)
		r.Post("/visitors/sweep", visitorsHandler.Sweep)

		// Access log
		r.Get("/events", eventsHandler.List)

		// Residents
		r.Get("/residents", residentsHandler.List)
		r.Post("/residents/reload", residentsHandler.Reload)

		// Stats
		r.Get("/stats", statsHandler.Get)
	})
}
