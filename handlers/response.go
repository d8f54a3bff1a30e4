package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"taskplanner/store"
	"taskplanner/utilities"
)

const maxBodySize = 64 * 1024

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utilities.LogError(err, "failed to encode response")
	}
}

// respondWithError maps err onto an HTTP status and writes it as JSON.
func respondWithError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	writeJSON(w, status, ErrorResponse{Error: body})
}

func classify(err error) (int, ErrorBody) {
	var validationErr *store.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, ErrorBody{Type: "validation", Message: validationErr.Error(), Field: validationErr.Field}
	case errors.Is(err, store.ErrTaskNotFound):
		return http.StatusNotFound, ErrorBody{Type: "not_found", Message: "task not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorBody{Type: "timeout", Message: "the task store did not answer in time"}
	case errors.Is(err, store.ErrStoreClosed):
		return http.StatusServiceUnavailable, ErrorBody{Type: "unavailable", Message: "the task store is shutting down"}
	case store.IsKind(err, store.KindWrite):
		return http.StatusBadGateway, ErrorBody{Type: "write_failed", Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorBody{Type: "internal", Message: err.Error()}
	}
}

// decodeBody reads a JSON request body into v. Malformed input is reported
// as a validation error on the body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return store.NewValidationError("body", "request body too large")
		}
		return store.NewValidationError("body", "invalid JSON payload")
	}
	return nil
}
