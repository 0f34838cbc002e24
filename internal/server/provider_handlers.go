package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/testgate/testgate/internal/provider"
	"github.com/testgate/testgate/internal/store"
)

type registerProviderRequest struct {
	Type     string          `json:"type"`
	Provider json.RawMessage `json:"provider"`
}

// handleListProviders returns registered provider documents, optionally
// filtered by ?type=.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	var docs []provider.Document
	if typeParam := r.URL.Query().Get("type"); typeParam != "" {
		typ, err := provider.ParseType(typeParam)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		docs = s.registry.ByType(typ)
	} else {
		docs = s.registry.All()
	}
	if docs == nil {
		docs = []provider.Document{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(docs); err != nil {
		s.logger.Error("failed to encode provider list", "error", err)
	}
}

// handleRegisterProvider validates, persists and registers a provider
// document. Registering an existing type and name pair replaces it.
func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req registerProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	typ, err := provider.ParseType(req.Type)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := provider.NewDocument(typ, req.Provider)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := &store.ProviderRecord{
		Type:     string(doc.Type),
		Name:     doc.Name,
		Document: string(doc.Body),
	}
	if err := s.store.UpsertProvider(rec); err != nil {
		s.logger.Error("failed to persist provider", "type", doc.Type, "name", doc.Name, "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.Register(doc)

	s.logger.Info("provider registered", "type", doc.Type, "name", doc.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Error("failed to encode provider", "error", err)
	}
}

// handleGetProvider returns a single provider document.
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	typ, err := provider.ParseType(r.PathValue("type"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.PathValue("name")
	if name == "" {
		jsonError(w, http.StatusBadRequest, "provider name required")
		return
	}

	doc, ok := s.registry.Get(typ, name)
	if !ok {
		jsonError(w, http.StatusNotFound, "provider not found: "+name)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Error("failed to encode provider", "error", err)
	}
}

// handleDeleteProvider removes a provider from the store and the registry.
func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	typ, err := provider.ParseType(r.PathValue("type"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.PathValue("name")
	if name == "" {
		jsonError(w, http.StatusBadRequest, "provider name required")
		return
	}

	if _, ok := s.registry.Get(typ, name); !ok {
		jsonError(w, http.StatusNotFound, "provider not found: "+name)
		return
	}
	if err := s.store.DeleteProvider(string(typ), name); err != nil && !errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.Remove(typ, name)

	s.logger.Info("provider deleted", "type", typ, "name", name)
	w.WriteHeader(http.StatusNoContent)
}
