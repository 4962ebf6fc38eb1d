package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

type createResourceTypeRequest struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Schema      map[string]any `json:"schema"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) createResourceType(w http.ResponseWriter, r *http.Request) {
	var req createResourceTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "decode request body"))
		return
	}
	if req.Name == "" || req.Version == "" {
		writeError(w, apperrors.New(apperrors.ErrorTypeValidation, "name and version are required"))
		return
	}

	rt, err := s.store.UpsertResourceType(r.Context(), types.ResourceType{
		Name: req.Name, Version: req.Version, Schema: req.Schema,
		Description: req.Description, Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) listResourceTypes(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	rts, err := s.store.ListResourceTypes(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rts)
}

func (s *Server) getResourceTypeByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperrors.New(apperrors.ErrorTypeValidation, "id must be an integer"))
		return
	}
	rt, err := s.store.GetResourceTypeByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) getResourceTypeByKey(w http.ResponseWriter, r *http.Request) {
	key := types.TypeKey{Name: chi.URLParam(r, "name"), Version: chi.URLParam(r, "version")}
	rt, err := s.store.GetResourceType(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}
