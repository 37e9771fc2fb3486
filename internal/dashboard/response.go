// Package dashboard provides the REST API, SSE stream, and websocket mirror
// for bmad-assist.
package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
)

// APIError is the standard error response format.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// JSONResponseStatus writes a JSON response with a specific status code.
func JSONResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSONError writes a simple error response.
func JSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message})
}

// HandleError inspects the error type and writes the appropriate response.
// Structured errors map their category to an HTTP status; validation errors
// carry the field-level details the import preview renders.
func HandleError(w http.ResponseWriter, err error) {
	var verr *bmaderrors.ValidationError
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(APIError{
			Error:   "config validation failed",
			Code:    string(bmaderrors.CodeConfigInvalid),
			Details: verr.Errors,
		})
		return
	}
	var berr *bmaderrors.Error
	if errors.As(err, &berr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(berr.HTTPStatus())
		_ = json.NewEncoder(w).Encode(APIError{
			Error: berr.What,
			Code:  string(berr.Code),
		})
		return
	}
	JSONError(w, err.Error(), http.StatusInternalServerError)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
