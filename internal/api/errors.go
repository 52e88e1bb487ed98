package api

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured error response.
type Error struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Common error codes.
const (
	ErrCodeInvalidInput   = "invalid_input"
	ErrCodeNotConnected   = "not_connected"
	ErrCodePublishFailed  = "publish_failed"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// Response messages for the top-up endpoint.
const (
	msgInvalidTopup  = "Invalid uid or amount (>0)"
	msgNotConnected  = "Bus not connected"
	msgPublishFailed = "Failed to forward top-up command"
	msgTopupSent     = "Top-up command sent"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Error: message,
		Code:  code,
	})
}

// writeInvalidInput writes a 400 error response.
func writeInvalidInput(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, ErrCodeInvalidInput, msgInvalidTopup)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
