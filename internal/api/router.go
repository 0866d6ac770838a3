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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/system", s.handleSystemStatus)

			// Measurement snapshots
			r.Route("/measurements", func(r chi.Router) {
				r.Get("/", s.handleListMeasurements)
				r.Get("/{channel}", s.handleGetMeasurement)
			})

			// Instrument control
			r.Route("/instrument", func(r chi.Router) {
				r.Post("/start", s.handleInstrumentStart)
				r.Post("/stop", s.handleInstrumentStop)
				r.Post("/calibrate", s.handleInstrumentCalibrate)
				r.Get("/channels/{channel}/exposure", s.handleGetExposure)
				r.Put("/channels/{channel}/exposure", s.handleSetExposure)
			})

			// Lock control
			r.Route("/locks", func(r chi.Router) {
				r.Get("/", s.handleListLocks)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetLock)
					r.Post("/enable", s.handleLockEnable)
					r.Post("/disable", s.handleLockDisable)
					r.Put("/setpoint", s.handleLockSetpoint)
					r.Put("/gains", s.handleLockGains)
					r.Post("/scan/start", s.handleLockScanStart)
					r.Post("/scan/stop", s.handleLockScanStop)
					r.Put("/aux", s.handleLockAux)
					r.Post("/sensitivity/measure", s.handleLockMeasureSensitivity)
				})
			})

			// Autocalibration
			r.Route("/autocal", func(r chi.Router) {
				r.Get("/", s.handleAutocalStatus)
				r.Put("/config", s.handleAutocalConfigure)
				r.Post("/start", s.handleAutocalStart)
				r.Post("/abort", s.handleAutocalAbort)
				r.Get("/history", s.handleAutocalHistory)
			})

			// Lock profiles
			r.Route("/profiles", func(r chi.Router) {
				r.Get("/", s.handleListProfiles)
				r.Post("/", s.handleCreateProfile)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetProfile)
					r.Patch("/", s.handleUpdateProfile)
					r.Delete("/", s.handleDeleteProfile)
					r.Post("/apply", s.handleApplyProfile)
				})
			})

			// WebSocket stream (auth via token query parameter)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
