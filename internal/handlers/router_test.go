package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/services"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestRouterProbes(t *testing.T) {
	now := time.Date(2024, 3, 5, 2, 30, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(router, http.MethodGet, path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: unexpected content type %q", path, ct)
		}
		if rr.Header().Get("Cache-Control") == "" {
			t.Fatalf("%s: expected probes to disable caching", path)
		}
	}
}

func TestRouterDisabledGroups(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/api/v1/orders", "/api/v1/settings/time-slots", "/api/v1/admin/orders", "/api/v1/internal/payments/reconcile-pending"} {
		rr := serve(router, http.MethodGet, path)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected status 501, got %d", path, rr.Code)
		}
		if body := decodeBody[errorBody](t, rr); body.Error != "not_implemented" {
			t.Fatalf("%s: unexpected error body %+v", path, body)
		}
	}
}

func TestRouterMountsRegistrars(t *testing.T) {
	var hits []string
	registrar := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				hits = append(hits, name)
				w.WriteHeader(http.StatusNoContent)
			})
		}
	}
	router := NewRouter(
		WithOrderRoutes(registrar("orders")),
		WithSettingsRoutes(registrar("settings")),
		WithAdminRoutes(registrar("admin")),
		WithWebhookRoutes(registrar("webhooks")),
		WithInternalRoutes(registrar("internal")),
	)

	for _, name := range routeGroupOrder {
		if rr := serve(router, http.MethodGet, "/api/v1/"+name); rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected status 204, got %d", name, rr.Code)
		}
	}
	if len(hits) != len(routeGroupOrder) {
		t.Fatalf("expected every group to be served, got %v", hits)
	}
}

func TestRouterNotFoundAndMethodNotAllowed(t *testing.T) {
	router := NewRouter(WithSettingsRoutes(func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}))

	rr := serve(router, http.MethodGet, "/menu")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if body := decodeBody[errorBody](t, rr); body.Error != "route_not_found" {
		t.Fatalf("unexpected error body %+v", body)
	}

	rr = serve(router, http.MethodDelete, "/healthz")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

func TestRouterGroupMiddlewaresAreScoped(t *testing.T) {
	tag := func(value string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Group", value)
				next.ServeHTTP(w, r)
			})
		}
	}
	router := NewRouter(
		WithWebhookMiddlewares(tag("webhooks")),
		WithInternalMiddlewares(tag("internal")),
	)

	if got := serve(router, http.MethodPost, "/api/v1/webhooks/stripe").Header().Get("X-Group"); got != "webhooks" {
		t.Fatalf("expected webhook middleware, got %q", got)
	}
	if got := serve(router, http.MethodPost, "/api/v1/internal/payments/reconcile-pending").Header().Get("X-Group"); got != "internal" {
		t.Fatalf("expected internal middleware, got %q", got)
	}
	if got := serve(router, http.MethodGet, "/api/v1/orders").Header().Get("X-Group"); got != "" {
		t.Fatalf("expected orders to skip group middleware, got %q", got)
	}
}

func TestRouterGlobalMiddlewares(t *testing.T) {
	var seen bool
	router := NewRouter(WithMiddlewares(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = true
			next.ServeHTTP(w, r)
		})
	}))

	serve(router, http.MethodGet, "/healthz")
	if !seen {
		t.Fatalf("expected global middleware to run")
	}
}
