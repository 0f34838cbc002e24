package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/testgate/testgate/internal/engine"
	"github.com/testgate/testgate/internal/store"
)

type testRunJSON struct {
	ID                     string    `json:"id"`
	Status                 string    `json:"status"`
	ArtifactID             string    `json:"artifact_id,omitempty"`
	ArtifactIdentity       string    `json:"artifact_identity,omitempty"`
	Suites                 []string  `json:"suites"`
	IUTProvider            string    `json:"iut_provider"`
	ExecutionSpaceProvider string    `json:"execution_space_provider"`
	LogAreaProvider        string    `json:"log_area_provider"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// runToJSON converts a store.TestRun to the JSON response shape.
func runToJSON(run store.TestRun) testRunJSON {
	suites := []string{}
	if run.SuiteNames != "" {
		suites = strings.Split(run.SuiteNames, ",")
	}
	return testRunJSON{
		ID:                     run.ID,
		Status:                 run.Status,
		ArtifactID:             run.ArtifactID,
		ArtifactIdentity:       run.ArtifactIdentity,
		Suites:                 suites,
		IUTProvider:            run.IUTProvider,
		ExecutionSpaceProvider: run.ExecutionSpaceProvider,
		LogAreaProvider:        run.LogAreaProvider,
		CreatedAt:              run.CreatedAt,
		UpdatedAt:              run.UpdatedAt,
	}
}

// handleStartTestRun decodes a start request and hands it to the engine.
func (s *Server) handleStartTestRun(w http.ResponseWriter, r *http.Request) {
	var req engine.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.engine.StartRun(r.Context(), req)
	if err != nil {
		var reqErr *engine.RequestError
		if errors.As(err, &reqErr) {
			jsonError(w, http.StatusBadRequest, reqErr.Error())
			return
		}
		s.logger.Error("failed to start test run", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode test run response", "error", err)
	}
}

// handleGetTestRun returns the stored record for a single test run.
func (s *Server) handleGetTestRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := s.engine.GetRun(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "test run not found: "+id)
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runToJSON(*run)); err != nil {
		s.logger.Error("failed to encode test run", "error", err)
	}
}

// handleAbortTestRun marks a run aborted and announces the abort.
func (s *Server) handleAbortTestRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.engine.AbortRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "test run not found: "+id)
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
