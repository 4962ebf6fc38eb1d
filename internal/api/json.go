package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its AppError status code and body shape.
// {"detail": message} is the convention for admission denials; the same
// shape is used for every error response for consistency.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.StatusCode(err)
	writeJSON(w, code, map[string]string{"detail": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
