package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/facegate/facegate/internal/web/handlers"
)

func (s *Server) setupRoutes(pipeline handlers.Recognizer) {
	identifyHandler := handlers.NewIdentifyHandler(pipeline, s.log)
	enrollHandler := handlers.NewEnrollHandler(pipeline, s.log)
	statusHandler := handlers.NewStatusHandler(pipeline, s.log)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/identify", identifyHandler.Identify)
		r.Post("/enroll", enrollHandler.Enroll)
		r.Get("/model/status", statusHandler.Get)
	})
}
