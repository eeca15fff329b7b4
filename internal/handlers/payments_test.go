package handlers

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/foodcourt/api/internal/platform/idempotency"
	"github.com/foodcourt/api/internal/services"
)

func TestPublishableKeyIsPublic(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/payments/stripe-publishable-key", "", nil)
	if rec.Code != http.StatusOK || decodeMap(t, rec)["publishableKey"] != "pk_test_handlers" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateIntent(t *testing.T) {
	h := newAPIHarness(t)
	orderID := h.placeAliceOrder(t)

	rec := h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", map[string]string{"orderId": orderID})
	if rec.Code != http.StatusOK {
		t.Fatalf("create intent: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeMap(t, rec)
	if body["clientSecret"] != "pi_"+orderID+"_secret" || body["amount"] != "31.48" || body["currency"] != "usd" {
		t.Fatalf("unexpected body %v", body)
	}

	assertError(t, h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "bob", map[string]string{"orderId": orderID}), http.StatusForbidden, "forbidden")
	assertError(t, h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", map[string]string{}), http.StatusBadRequest, "invalid_request")
	assertError(t, h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "", map[string]string{"orderId": orderID}), http.StatusUnauthorized, "unauthenticated")

	h.pay(t, orderID)
	assertError(t, h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", map[string]string{"orderId": orderID}), http.StatusConflict, "illegal_order_state")
}

func TestCreateIntentRateLimited(t *testing.T) {
	now := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	h := newAPIHarness(t, func(cfg *harnessConfig) {
		cfg.paymentOptions = append(cfg.paymentOptions, WithIntentRateLimit(2, time.Minute, func() time.Time { return now }))
	})
	orderID := h.placeAliceOrder(t)
	body := map[string]string{"orderId": orderID}

	for i := 0; i < 2; i++ {
		if rec := h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", body); rec.Code != http.StatusOK {
			t.Fatalf("call %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}
	rec := h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", body)
	assertError(t, rec, http.StatusTooManyRequests, "rate_limited")
	if retry, _ := strconv.Atoi(rec.Header().Get("Retry-After")); retry != 30 {
		t.Fatalf("expected Retry-After 30, got %q", rec.Header().Get("Retry-After"))
	}

	if rec := h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "root", body); rec.Code != http.StatusOK {
		t.Fatalf("other callers keep their own window: %d", rec.Code)
	}
	now = now.Add(time.Minute)
	if rec := h.do(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", body); rec.Code != http.StatusOK {
		t.Fatalf("window should reset: %d", rec.Code)
	}
}

func TestCreateIntentIdempotent(t *testing.T) {
	store := idempotency.NewMemoryStore()
	h := newAPIHarness(t, func(cfg *harnessConfig) {
		cfg.paymentOptions = append(cfg.paymentOptions, WithPaymentIdempotency(idempotency.Middleware(store)))
	})
	orderID := h.placeAliceOrder(t)
	headers := map[string]string{"Idempotency-Key": "intent-1"}

	first := h.doWithHeaders(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", map[string]string{"orderId": orderID}, headers)
	second := h.doWithHeaders(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", map[string]string{"orderId": orderID}, headers)
	if first.Code != http.StatusOK || second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay, got %d/%d", first.Code, second.Code)
	}
	conflict := h.doWithHeaders(t, http.MethodPost, "/api/v1/payments/create-intent", "alice", map[string]string{"orderId": "other"}, headers)
	assertError(t, conflict, http.StatusConflict, "idempotency_key_conflict")
}

func TestStripeWebhook(t *testing.T) {
	h := newAPIHarness(t)
	orderID := h.placeAliceOrder(t)
	event := map[string]string{"type": services.PaymentEventIntentSucceeded, "orderId": orderID, "intentId": "pi_1"}

	rec := h.doWithHeaders(t, http.MethodPost, "/api/v1/webhooks/stripe", "", event, map[string]string{"Stripe-Signature": "forged"})
	assertError(t, rec, http.StatusBadRequest, "invalid_signature")
	rec = h.do(t, http.MethodPost, "/api/v1/webhooks/stripe", "", event)
	assertError(t, rec, http.StatusBadRequest, "invalid_signature")

	rec = h.doWithHeaders(t, http.MethodPost, "/api/v1/webhooks/stripe", "", event, map[string]string{"Stripe-Signature": "valid"})
	if rec.Code != http.StatusOK || decodeMap(t, rec)["received"] != true {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	order := decodeMap(t, h.do(t, http.MethodGet, "/api/v1/orders/"+orderID, "alice", nil))
	if order["status"] != "PLACED" || order["paymentIntentId"] != "pi_1" || order["placedAt"] == nil {
		t.Fatalf("unexpected order %v", order)
	}

	unknown := map[string]string{"type": services.PaymentEventIntentSucceeded, "orderId": "missing", "intentId": "pi_2"}
	rec = h.doWithHeaders(t, http.MethodPost, "/api/v1/webhooks/stripe", "", unknown, map[string]string{"Stripe-Signature": "valid"})
	if rec.Code != http.StatusOK {
		t.Fatalf("processing failures are acknowledged, got %d", rec.Code)
	}
}

func TestStripeWebhookPaymentFailed(t *testing.T) {
	h := newAPIHarness(t)
	orderID := h.placeAliceOrder(t)
	event := map[string]string{"type": services.PaymentEventIntentFailed, "orderId": orderID, "intentId": "pi_1"}

	rec := h.doWithHeaders(t, http.MethodPost, "/api/v1/webhooks/stripe", "", event, map[string]string{"Stripe-Signature": "valid"})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	order := decodeMap(t, h.do(t, http.MethodGet, "/api/v1/orders/"+orderID, "alice", nil))
	if order["status"] != "FAILED" || order["paymentStatusDetail"] == nil {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestCallerLimiter(t *testing.T) {
	now := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	l := newCallerLimiter(1, 10*time.Second, func() time.Time { return now })

	if ok, _ := l.Allow("u1"); !ok {
		t.Fatalf("first call should pass")
	}
	now = now.Add(4 * time.Second)
	ok, wait := l.Allow("u1")
	if ok || wait < 5900*time.Millisecond || wait > 6*time.Second {
		t.Fatalf("expected rejection with about 6s wait, got %v %s", ok, wait)
	}
	if ok, _ := l.Allow("u2"); !ok {
		t.Fatalf("keys are independent")
	}
	now = now.Add(6 * time.Second)
	if ok, _ := l.Allow("u1"); !ok {
		t.Fatalf("token should have refilled")
	}
	if newCallerLimiter(0, time.Second, nil) != nil {
		t.Fatalf("zero limit disables the limiter")
	}
	var disabled *callerLimiter
	if ok, _ := disabled.Allow("u1"); !ok {
		t.Fatalf("nil limiter admits everything")
	}
}
