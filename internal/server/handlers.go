package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports whether the trade store answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "tradeapproval",
	}

	if checker := s.container.HealthChecker(); checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.QuickCheck(ctx); err != nil {
			s.log.Error().Err(err).Msg("Health check failed")
			response["status"] = "unhealthy"
			response["error"] = "database unavailable"
			s.writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
