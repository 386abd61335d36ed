package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nanacafe/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "0af7651916cd43dd8448eb211c80319c"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("order_not_found", "order\nnot found", http.StatusNotFound))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]any{
		"error":      "order_not_found",
		"message":    "order not found",
		"status":     float64(404),
		"request_id": "req-42",
		"trace_id":   "0af7651916cd43dd8448eb211c80319c",
	}
	for key, value := range want {
		if body[key] != value {
			t.Fatalf("%s: expected %v, got %v", key, value, body[key])
		}
	}
	if rr.Header().Get("Retry-After") != "" {
		t.Fatalf("unexpected Retry-After header")
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("rate_limited", "slow down", http.StatusTooManyRequests).Retry(1500*time.Millisecond))

	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	if strings.Contains(rr.Body.String(), "request_id") {
		t.Fatalf("expected request_id to be omitted, got %s", rr.Body.String())
	}
}

func TestNewErrorNormalisesStatus(t *testing.T) {
	if got := NewError("x", "y", 0).Status; got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
	if got := NewError("x", "y", http.StatusOK).Status; got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for non-error status, got %d", got)
	}
	long := NewError(strings.Repeat("c", 200), "m", http.StatusBadRequest)
	if len(long.Code) != maxCodeLen {
		t.Fatalf("expected code truncated to %d, got %d", maxCodeLen, len(long.Code))
	}
}

type orderBody struct {
	Quantity int `json:"quantity"`
}

func TestDecodeJSON(t *testing.T) {
	cases := map[string]struct {
		body  string
		limit int64
		want  error
	}{
		"ok":             {body: `{"quantity":2}`},
		"empty":          {body: ``, want: ErrEmptyBody},
		"too large":      {body: `{"quantity":2}`, limit: 4, want: ErrBodyTooLarge},
		"unknown field":  {body: `{"quantity":2,"price":1}`},
		"trailing value": {body: `{"quantity":2}{"quantity":3}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.body))
			var dst orderBody
			err := DecodeJSON(req, &dst, tc.limit)
			switch {
			case name == "ok":
				if err != nil || dst.Quantity != 2 {
					t.Fatalf("expected quantity 2, got %+v err=%v", dst, err)
				}
			case tc.want != nil:
				if !errors.Is(err, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, err)
				}
			default:
				if err == nil {
					t.Fatalf("expected decode error")
				}
			}
		})
	}
}
