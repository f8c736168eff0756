package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeNoActiveDocument = "NO_ACTIVE_DOCUMENT"
	ErrCodeProviderError    = "PROVIDER_ERROR"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeTypedError maps a core error to a status and code.
func writeTypedError(w http.ResponseWriter, err error) {
	var typed *types.Error
	if !errors.As(err, &typed) {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	status, code := http.StatusBadGateway, ErrCodeProviderError
	switch typed.Kind {
	case types.ErrKindNoActiveDocument:
		status, code = http.StatusUnprocessableEntity, ErrCodeNoActiveDocument
	case types.ErrKindAllProvidersUnavailable:
		status, code = http.StatusServiceUnavailable, ErrCodeUnavailable
	case types.ErrKindProviderTimeout:
		status = http.StatusGatewayTimeout
	}
	writeErrorWithDetails(w, status, code, typed.Error(), map[string]any{
		"kind":     typed.Kind,
		"attempts": typed.Attempts,
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
