package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Post("/topup", s.handleTopup)
	r.Get(s.wsCfg.Path, s.handleWebSocket)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "Method not allowed")
	})

	return r
}

// handleHealth reports 200 while the bus is connected and 503 otherwise.
// Dashboards stay served either way; the status reflects whether top-ups
// can be forwarded.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.bus.IsConnected() {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"bridge_state": s.bridge.State().String(),
		"bus_state":    s.bus.State().String(),
		"sessions":     s.sessions.Count(),
		"version":      s.version,
	})
}
