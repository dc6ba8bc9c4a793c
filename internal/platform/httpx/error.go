// Package httpx holds the JSON error envelope shared by every HTTP surface.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/axleworks/api/internal/platform/requestctx"
)

// Error is the canonical error envelope. Code is a stable machine-readable
// snake_case identifier; Message is safe to show to an end user.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
}

type errorBody struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewError builds an envelope. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, 80),
		Message: clean(message, 512),
		Status:  status,
	}
}

// WriteError renders the envelope as JSON. Request and trace ids are pulled
// from the context when the caller did not set them explicitly.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	body := errorBody{
		Code:      err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: err.RequestID,
		TraceID:   err.TraceID,
	}
	if body.Status == 0 {
		body.Status = http.StatusInternalServerError
	}
	if body.RequestID == "" {
		body.RequestID = clean(middleware.GetReqID(ctx), 80)
	}
	if body.TraceID == "" {
		body.TraceID = clean(requestctx.TraceID(ctx), 64)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// clean keeps envelope fields single-line and bounded.
func clean(value string, limit int) string {
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	return value
}
