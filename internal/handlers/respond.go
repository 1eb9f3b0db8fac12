package handlers

import (
	"encoding/json"
	"net/http"
)

// Error codes returned to SDK clients on the platform API
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeInvalidCode         = "INVALID_CODE"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeInternalError       = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits the flat envelope SDK clients parse: the code string under
// "error", the human message under "message".
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// writeErrorDetails merges extra fields (current_balance, retry_after, ...)
// into the top level of the envelope, where SDK clients read them.
func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	body := map[string]interface{}{
		"error":   code,
		"message": message,
	}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, body)
}
