package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/cams-platform/cams/internal/errors"
)

// errorEnvelope is the JSON body of every error response.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    errors.Code            `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an error response. Unknown errors surface as a generic
// internal error so internals never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	svcErr := errors.AsService(err)
	WriteJSON(w, svcErr.HTTPStatus, errorEnvelope{Error: errorBody{
		Code:    svcErr.Code,
		Message: svcErr.Message,
		Details: svcErr.Details,
	}})
}

// DecodeJSON decodes a request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Validation("invalid request body: %v", err)
	}
	return nil
}
