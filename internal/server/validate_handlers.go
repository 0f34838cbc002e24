package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/testgate/testgate/internal/engine"
)

type validateRequest struct {
	TestSuiteURL string `json:"test_suite_url"`
}

// handleValidate checks a test suite definition without starting a run.
// The body is either {"test_suite_url": ...} pointing at a definition to
// download, or the raw definition array itself.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = s.engine.ValidateDefinitions(r.Context(), trimmed)
	} else {
		var req validateRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		err = s.engine.ValidateSuiteURL(r.Context(), req.TestSuiteURL)
	}

	if err != nil {
		var reqErr *engine.RequestError
		if errors.As(err, &reqErr) {
			jsonError(w, http.StatusBadRequest, reqErr.Error())
			return
		}
		s.logger.Error("suite validation failed", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
