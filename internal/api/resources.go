package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/internal/gateway"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

type createResourceRequest struct {
	Name                string         `json:"name"`
	ResourceTypeName    string         `json:"resource_type_name"`
	ResourceTypeVersion string         `json:"resource_type_version"`
	Spec                map[string]any `json:"spec"`
}

func (s *Server) createResource(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "decode request body"))
		return
	}
	key := types.TypeKey{Name: req.ResourceTypeName, Version: req.ResourceTypeVersion}
	created, err := s.gw.CreateResource(r.Context(), key, req.Name, req.Spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) resourceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperrors.New(apperrors.ErrorTypeValidation, "id must be an integer"))
		return 0, false
	}
	return id, true
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}
	res, err := s.store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getResourceByName(w http.ResponseWriter, r *http.Request) {
	key := types.TypeKey{Name: chi.URLParam(r, "type"), Version: chi.URLParam(r, "version")}
	name := chi.URLParam(r, "name")
	res, err := s.store.GetResourceByName(r.Context(), key, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type updateResourceRequest struct {
	Spec map[string]any `json:"spec"`
}

func (s *Server) updateResource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}
	var req updateResourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "decode request body"))
		return
	}
	updated, err := s.gw.UpdateResource(r.Context(), id, req.Spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}
	if err := s.gw.DeleteResource(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) manualTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}
	if err := s.gw.ManualTrigger(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	entries, err := s.store.ListHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getOutputs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}
	res, err := s.store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Outputs)
}

func (s *Server) patchFinalizers(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}
	var patch gateway.FinalizerPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "decode request body"))
		return
	}
	updated, err := s.gw.PatchFinalizers(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
