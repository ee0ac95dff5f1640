package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// ErrorBody is the stable client-facing error envelope. Raw error text
// never crosses the API boundary; the trace id ties the response to logs.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"traceId,omitempty"`
}

// WriteError writes the error envelope with a fresh trace id
func WriteError(w http.ResponseWriter, statusCode int, code, message string) error {
	return WriteJSON(w, statusCode, ErrorBody{
		Code:    code,
		Message: message,
		TraceID: common.NewTraceID(),
	})
}

// WriteAuthError maps authorization failures onto the wire. Session
// absence is the caller's fault (401); everything else collapses into
// 404 so foreign request ids are indistinguishable from unknown ones.
func WriteAuthError(w http.ResponseWriter, err error) error {
	if errors.Is(err, interfaces.ErrSessionMissing) {
		return WriteError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "X-Session-Id header is required")
	}
	return WriteError(w, http.StatusNotFound, "NOT_FOUND", "search job not found")
}
