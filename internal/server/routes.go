package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/requests", func(r chi.Router) {
		r.Get("/", s.listRequests)
		r.Post("/", s.submitRequest)

		r.Route("/{requestID}", func(r chi.Router) {
			r.Get("/", s.getRequest)
			r.Delete("/", s.cancelRequest)
			r.Get("/events", s.requestEvents)
		})
	})

	r.Route("/providers", func(r chi.Router) {
		r.Get("/", s.listProviders)
		r.Put("/", s.updateProviders)
	})

	// Lifecycle firehose (SSE)
	r.Get("/events", s.allEvents)
}
