package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

type createWebhookRequest struct {
	Name           string          `json:"name"`
	ResourceType   *types.TypeKey  `json:"resource_type,omitempty"`
	WebhookURL     string          `json:"webhook_url"`
	WebhookType    types.WebhookType `json:"webhook_type"`
	Operations     []types.Operation `json:"operations"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	FailurePolicy  types.FailurePolicy `json:"failure_policy"`
	Ordering       int             `json:"ordering"`
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "decode request body"))
		return
	}
	if req.Name == "" || req.WebhookURL == "" {
		writeError(w, apperrors.New(apperrors.ErrorTypeValidation, "name and webhook_url are required"))
		return
	}
	if req.WebhookType != types.WebhookMutating && req.WebhookType != types.WebhookValidating {
		writeError(w, apperrors.New(apperrors.ErrorTypeValidation, "webhook_type must be mutating or validating"))
		return
	}
	if req.FailurePolicy == "" {
		req.FailurePolicy = types.FailurePolicyFail
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 10
	}

	created, err := s.store.CreateWebhook(r.Context(), types.AdmissionWebhook{
		Name: req.Name, TypeFilter: req.ResourceType, WebhookURL: req.WebhookURL,
		WebhookType: req.WebhookType, Operations: req.Operations,
		TimeoutSeconds: req.TimeoutSeconds, FailurePolicy: req.FailurePolicy,
		Ordering: req.Ordering,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	whs, err := s.store.ListWebhooks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, whs)
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	wh, err := s.store.GetWebhook(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.store.DeleteWebhook(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
