// Package httputil holds small helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "evault/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape for error responses.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError maps a coded domain error onto an HTTP error response.
// Internal errors never leak their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	body := errorBody{Error: wireCode(code)}
	if code != dErrors.CodeInternal {
		body.ErrorDescription = err.Error()
	}
	WriteJSON(w, status, body)
}

func wireCode(code dErrors.Code) string {
	if code == dErrors.CodeInternal {
		return "internal_error"
	}
	return string(code)
}
