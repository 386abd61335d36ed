package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nanacafe/api/internal/platform/auth"
	"github.com/nanacafe/api/internal/platform/httpx"
	"github.com/nanacafe/api/internal/platform/ratelimit"
	"github.com/nanacafe/api/internal/platform/requestctx"
)

// RateLimitMiddleware rejects callers exceeding limiter with 429. Callers are keyed by
// Firebase UID when authenticated and by client IP otherwise. Limiter errors let the
// request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, scope string) func(http.Handler) http.Handler {
	scope = strings.Trim(strings.TrimSpace(scope), ":")
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := scope + ":" + rateLimitSubject(r)
			allowed, err := limiter.Allow(ctx, key)
			if err != nil {
				requestctx.Logger(ctx).Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests, slow down", http.StatusTooManyRequests).Retry(time.Minute))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitSubject(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.UID) != "" {
		return "uid:" + strings.TrimSpace(identity.UID)
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return "anonymous"
	}
	return "ip:" + host
}

// requireIdentity rejects requests without an authenticated identity (401) and, when
// roles are given, identities holding none of them (403). It relies on an earlier
// auth middleware having populated the context.
func requireIdentity(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := auth.IdentityFromContext(ctx)
			if !ok || strings.TrimSpace(identity.UID) == "" {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func appendMiddlewares(dst, src []func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	for _, mw := range src {
		if mw != nil {
			dst = append(dst, mw)
		}
	}
	return dst
}
