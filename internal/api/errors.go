// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/videotag/pipeline/internal/log"
)

// APIError represents a structured error response for the API.
// It provides machine-readable error codes and human-friendly messages.
type APIError struct {
	Code      string `json:"code"`              // Machine-readable error code
	Message   string `json:"message"`           // Human-readable error message
	RequestID string `json:"request_id"`        // Request ID for support/debugging
	Details   any    `json:"details,omitempty"` // Optional additional context
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Common API error definitions
var (
	ErrInvalidInput = &APIError{
		Code:    "INVALID_INPUT",
		Message: "Invalid input parameters",
	}
	ErrInternalServer = &APIError{
		Code:    "INTERNAL_SERVER_ERROR",
		Message: "An internal error occurred",
	}
	ErrServiceUnavailable = &APIError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: "Service temporarily unavailable",
	}
)

// RespondError sends a structured error response to the client.
// It automatically extracts the request ID from the context.
func RespondError(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *APIError, details ...any) {
	response := &APIError{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		RequestID: log.RequestIDFromContext(r.Context()),
	}

	if len(details) > 0 {
		response.Details = details[0]
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, apiErr.Message, statusCode)
	}
}
