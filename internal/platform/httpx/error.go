// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/foodcourt/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
)

// Error is an API failure: a stable machine code, a human message and the HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, maxCodeLen), Message: oneLine(message, maxMessageLen), Status: status}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// envelope is the wire shape of every error response.
type envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteError writes err as the JSON envelope, stamped with the request and trace ids from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	WriteJSON(w, err.Status, envelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: oneLine(middleware.GetReqID(ctx), maxCodeLen),
		TraceID:   oneLine(requestctx.TraceID(ctx), 64),
	})
}

// WriteJSON encodes payload with the given status. A nil payload writes only the status line.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// oneLine flattens line breaks and caps the byte length.
func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
