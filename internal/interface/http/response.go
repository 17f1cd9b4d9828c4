package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every response.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes.
const (
	codeNotFound          = "not_found"
	codeConflict          = "conflict"
	codeInvalidTransition = "invalid_transition"
	codeCapacityExceeded  = "capacity_exceeded"
	codeStoreUnavailable  = "store_unavailable"
	codeOutcomeUnknown    = "outcome_unknown"
	codeInvalidRequest    = "invalid_request"
	codeRateLimited       = "rate_limited"
	codeInternal          = "internal_error"
)

// writeJSON writes a success envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   true,
		Data:      data,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeJSONError writes an error envelope.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// errorMapping is the HTTP rendition of a domain error.
type errorMapping struct {
	status  int
	code    string
	message string
}

// mapError classifies err. The messages tell the client what to do next.
func mapError(err error) errorMapping {
	switch {
	case shared.IsNotFound(err):
		return errorMapping{http.StatusNotFound, codeNotFound, domainMessage(err, "not found")}
	case shared.IsConflict(err):
		return errorMapping{http.StatusConflict, codeConflict, "a mentorship is already pending or active for this pair, refresh"}
	case shared.IsCapacityExceeded(err):
		return errorMapping{http.StatusConflict, codeCapacityExceeded, "the mentor just filled up"}
	case shared.IsInvalidTransition(err):
		return errorMapping{http.StatusConflict, codeInvalidTransition, "the mentorship changed state, refresh"}
	case shared.IsValidation(err):
		return errorMapping{http.StatusBadRequest, codeInvalidRequest, domainMessage(err, "invalid request")}
	case shared.IsOutcomeUnknown(err), errors.Is(err, context.DeadlineExceeded):
		return errorMapping{http.StatusGatewayTimeout, codeOutcomeUnknown, "the outcome is unknown, re-read the mentorship state"}
	case shared.IsRetryable(err):
		return errorMapping{http.StatusServiceUnavailable, codeStoreUnavailable, "the relationship store is unavailable, try again"}
	default:
		return errorMapping{http.StatusInternalServerError, codeInternal, "an unexpected error occurred"}
	}
}

// domainMessage returns the message of the outermost DomainError.
func domainMessage(err error, fallback string) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return fallback
}
