package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nanacafe/api/internal/platform/auth"
	"github.com/nanacafe/api/internal/platform/requestctx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "Idempotent-Replayed"
	maxKeyLength  = 255
)

type options struct {
	header   string
	ttl      time.Duration
	required bool
	now      func() time.Time
}

// Option customises Middleware.
type Option func(*options)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// RequireKey rejects requests without the header instead of passing them through.
func RequireKey() Option {
	return func(o *options) { o.required = true }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Middleware replays stored responses for repeated keys. Keys are scoped to
// the caller, and only non-5xx responses are stored so failed attempts can be retried.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := options{header: defaultHeader, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := requestctx.Logger(ctx)

			raw := strings.TrimSpace(r.Header.Get(cfg.header))
			if raw == "" {
				if cfg.required {
					respondError(w, http.StatusBadRequest, "idempotency_key_required", "missing "+cfg.header+" header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxKeyLength {
				respondError(w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key too long")
				return
			}

			var body []byte
			if r.Body != nil {
				data, err := io.ReadAll(r.Body)
				if err != nil {
					respondError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
					return
				}
				body = data
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := caller(r) + "|" + raw
			fingerprint := fingerprintOf(r, body)

			state, entry, err := store.Reserve(ctx, key, fingerprint, cfg.now(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				respondError(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
				return
			case err != nil:
				logger.Error("idempotency reserve failed", zap.Error(err))
				respondError(w, http.StatusServiceUnavailable, "idempotency_unavailable", "unable to process idempotency key")
				return
			}
			switch state {
			case StateCompleted:
				replay(w, entry.Response)
				return
			case StateInFlight:
				respondError(w, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is in progress")
				return
			}

			rec := &recorder{header: make(http.Header), status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, key); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			} else if err := store.Complete(ctx, key, Response{Status: rec.status, Headers: rec.header, Body: rec.body.Bytes()}, cfg.now(), cfg.ttl); err != nil {
				logger.Warn("idempotency complete failed", zap.Error(err))
			}
			rec.flush(w)
		})
	}
}

func caller(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return "uid:" + identity.UID
	}
	return "anon"
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "?" + r.URL.RawQuery + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": code, "message": message, "status": status})
}

type recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status, r.wroteHeader = status, true
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(p)
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body.Bytes())
}
