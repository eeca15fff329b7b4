package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouterUnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assertError(t, rec, http.StatusNotFound, "route_not_found")
}

func TestRouterUnconfiguredGroups(t *testing.T) {
	router := NewRouter()
	for _, path := range []string{
		"/api/v1/users/alice/cart",
		"/api/v1/orders/ord_1",
		"/api/v1/payments/stripe-publishable-key",
		"/api/v1/webhooks/stripe",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assertError(t, rec, http.StatusNotImplemented, "not_implemented")
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPatch, "/api/v1/payments/stripe-publishable-key", "", nil)
	assertError(t, rec, http.StatusMethodNotAllowed, "method_not_allowed")
}

func TestRouterAppliesGlobalMiddlewares(t *testing.T) {
	var seen bool
	mark := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = true
			next.ServeHTTP(w, r)
		})
	}
	rec := httptest.NewRecorder()
	NewRouter(WithMiddlewares(mark)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !seen || rec.Code != http.StatusOK {
		t.Fatalf("expected middleware to run, seen=%v status=%d", seen, rec.Code)
	}
}

func TestWebhookGroupMiddlewares(t *testing.T) {
	var hits int
	count := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			next.ServeHTTP(w, r)
		})
	}
	h := newAPIHarness(t, func(cfg *harnessConfig) {
		cfg.routerOptions = append(cfg.routerOptions, WithWebhookMiddlewares(count))
	})
	h.do(t, http.MethodPost, "/api/v1/webhooks/stripe", "", `{}`)
	h.do(t, http.MethodGet, "/api/v1/payments/stripe-publishable-key", "", nil)
	if hits != 1 {
		t.Fatalf("webhook middleware should only see webhook traffic, got %d", hits)
	}
}
