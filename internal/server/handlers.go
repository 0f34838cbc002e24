package server

import (
	"encoding/json"
	"net/http"
)

type statusResponse struct {
	Version  string        `json:"version"`
	TestRuns testRunCounts `json:"testruns"`
}

type testRunCounts struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// handleStatus reports the server version and test run counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	total, byStatus, err := s.engine.RunCounts()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := statusResponse{
		Version: s.version,
		TestRuns: testRunCounts{
			Total:    total,
			ByStatus: byStatus,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

// handlePing answers liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handlePingHead answers HEAD liveness probes from older clients.
func (s *Server) handlePingHead(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("HEAD request on /selftest/ping is deprecated, use GET")
	w.WriteHeader(http.StatusNoContent)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
