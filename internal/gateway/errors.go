// ABOUTME: Machine-readable API error codes and JSON error responses
// ABOUTME: Every edge error carries a stable code, message, timestamp and status

package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// Stable error codes returned to clients
const (
	CodeMissingToken       = "MISSING_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	CodeUserExists         = "USER_ALREADY_EXISTS"
	CodeEmailExists        = "EMAIL_ALREADY_EXISTS"
	CodeProviderConflict   = "PROVIDER_CONFLICT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "TOO_MANY_REQUESTS"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// errorResponse is the JSON body for every error the edge produces itself
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path,omitempty"`
	Status    int    `json:"status"`
}

// writeError writes a JSON error response with the given code and status
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
		Status:    status,
	})
}

// writeJSON writes a JSON success response
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// fallbackResponse is the 503 body served when an upstream is unreachable.
// Path is omitted so the body shape stays stable per upstream.
type fallbackResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
}

// writeFallback serves the per-upstream 503 fallback body
func writeFallback(w http.ResponseWriter, upstream string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(fallbackResponse{
		Error:     CodeUnavailable,
		Message:   upstream + " service is temporarily unavailable. Please try again later.",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    http.StatusServiceUnavailable,
	})
}
