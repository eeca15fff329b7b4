package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/foodcourt/api/internal/platform/auth"
)

var fixedTime = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func newRequest(body, key, uid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"n":` + strconv.Itoa(*calls) + `}`))
	})
}

func TestMiddlewareMissingHeaderPassesThrough(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest(`{"a":1}`, "", "u-alice"))
		if rr.Code != http.StatusCreated || rr.Header().Get(replayHeaderName) != "" {
			t.Fatalf("unexpected response %d %v", rr.Code, rr.Header())
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, got %d", calls)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest(`{"a":1}`, "abc-123", "u-alice"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest(`{"a":1}`, "abc-123", "u-alice"))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if rr2.Code != http.StatusCreated || rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replayed 201, got %d %v", rr2.Code, rr2.Header())
	}
	if rr2.Header().Get("Content-Type") != "application/json" || rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("replay mismatch: %q vs %q", rr2.Body.String(), rr1.Body.String())
	}
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "shared", "u-alice"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(`{}`, "shared", "u-bob"))

	if calls != 2 || rr.Header().Get(replayHeaderName) != "" {
		t.Fatalf("keys must not leak across callers, calls=%d", calls)
	}
}

func TestMiddlewareConflictingBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{"a":1}`, "same-key", "u-alice"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(`{"a":2}`, "same-key", "u-alice"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservation(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	}))

	req := newRequest(`{"a":1}`, "pending-key", "u-alice")
	fingerprint := requestFingerprint(req, []byte(`{"a":1}`), "u-alice")
	if _, err := store.Reserve(context.Background(), "pending-key|u-alice", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareServerErrorsAreNotReplayed(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusServiceUnavailable))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest(`{}`, "retry-me", "u-alice"))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("5xx responses must be retried, got %d calls", calls)
	}
}

func TestMiddlewareCompleteFailureReleasesKey(t *testing.T) {
	store := &stubStore{failComplete: true}
	var calls int
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(`{}`, "fail-key", "u-alice"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("handler response should still be delivered, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected reservation to be released")
	}
}

func TestMiddlewareStoreUnavailable(t *testing.T) {
	handler := Middleware(&stubStore{failReserve: true})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(`{}`, "k", "u-alice"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_store_error")
}

func TestMiddlewareIgnoresSafeMethods(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Idempotency-Key", "k")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("GET must not be deduplicated, got %d calls", calls)
	}
}

type stubStore struct {
	failReserve  bool
	failComplete bool
	released     bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.failReserve {
		return Reservation{}, errors.New("store down")
	}
	return Reservation{Outcome: OutcomeRun}, nil
}

func (s *stubStore) Complete(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failComplete {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string) error {
	s.released = true
	return nil
}

func (s *stubStore) Purge(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
