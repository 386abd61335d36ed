package httpx

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nanacafe/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Error is the JSON error body returned by every endpoint:
//
//	{"error": "...", "message": "...", "status": 400, "request_id": "...", "trace_id": "..."}
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
}

type errorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewError builds an Error. A status outside 4xx/5xx becomes 500.
func NewError(code, message string, status int) Error {
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLen),
		Message: singleLine(message, maxMessageLen),
		Status:  status,
	}
}

// Retry returns a copy of e that tells clients to back off for d.
func (e Error) Retry(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// WriteError renders e, stamping the chi request id and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}
	WriteJSON(w, e.Status, errorEnvelope{
		Error:     e.Code,
		Message:   e.Message,
		Status:    e.Status,
		RequestID: singleLine(middleware.GetReqID(ctx), maxIDLen),
		TraceID:   singleLine(requestctx.TraceID(ctx), maxIDLen),
	})
}

func singleLine(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
