package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/foodcourt/api/internal/platform/requestctx"
)

func newObservedRouter(t *testing.T, register func(chi.Router)) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(logger), TraceMiddleware("food-dev"), RecoveryMiddleware(logger), RequestLoggerMiddleware("food-dev"))
	register(r)
	return r, logs
}

func TestRequestLoggerRecordsRouteAndIdentifiers(t *testing.T) {
	router, logs := newObservedRouter(t, func(r chi.Router) {
		r.Put("/api/v1/orders/{orderID}/confirm", func(w http.ResponseWriter, r *http.Request) {
			requestctx.WithActor(r.Context(), requestctx.Actor{UserID: "u-chef"})
			w.WriteHeader(http.StatusConflict)
		})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/orders/o-42/confirm", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("4xx should log at warn, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/api/v1/orders/{orderID}/confirm" || fields["order_id"] != "o-42" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["status"] != int64(http.StatusConflict) || fields["user_id"] != "u-chef" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	router, logs := newObservedRouter(t, func(r chi.Router) {
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected completion logged at error, got %v", completed)
	}
}

func TestSanitizers(t *testing.T) {
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("empty route should become /, got %q", got)
	}
	if got := SanitizeID("u-1\x00\x1b[31m"); got != "u-1[31m" {
		t.Fatalf("control characters should be dropped, got %q", got)
	}
	if got := SanitizeID(strings.Repeat("é", 100)); len([]rune(got)) != maxIDLen {
		t.Fatalf("expected %d runes, got %d", maxIDLen, len([]rune(got)))
	}
}
