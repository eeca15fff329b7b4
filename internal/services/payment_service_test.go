package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/foodcourt/api/internal/domain"
)

type stubPaymentGateway struct {
	createFn func(context.Context, PaymentIntentRequest) (PaymentIntent, error)
	parseFn  func([]byte, string) (PaymentWebhookEvent, error)
	requests []PaymentIntentRequest
}

func (g *stubPaymentGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	g.requests = append(g.requests, req)
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return PaymentIntent{
		ID:           "pi_test",
		ClientSecret: "pi_test_secret",
		AmountMinor:  domain.MinorUnits(req.Amount),
		Currency:     req.Currency,
	}, nil
}

func (g *stubPaymentGateway) ParseWebhook(payload []byte, signature string) (PaymentWebhookEvent, error) {
	if g.parseFn != nil {
		return g.parseFn(payload, signature)
	}
	return PaymentWebhookEvent{}, errors.New("not configured")
}

type stubNotifier struct {
	mu         sync.Mutex
	successes  []string
	failures   []string
	restaurant []string
	err        error
}

func (n *stubNotifier) SendPaymentSuccess(_ context.Context, order Order, customer User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, order.ID+":"+customer.ID)
	return n.err
}

func (n *stubNotifier) SendPaymentFailure(_ context.Context, order Order, customer User, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, order.ID+":"+reason)
	return n.err
}

func (n *stubNotifier) NotifyRestaurantNewOrder(_ context.Context, order Order, restaurant Restaurant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.restaurant = append(n.restaurant, order.ID+":"+restaurant.ID)
	return n.err
}

type paymentHarness struct {
	*orderHarness
	gateway  *stubPaymentGateway
	notifier *stubNotifier
	svc      PaymentService
}

func newPaymentHarness(t *testing.T) *paymentHarness {
	t.Helper()
	h := &paymentHarness{
		orderHarness: newOrderHarness(t),
		gateway:      &stubPaymentGateway{},
		notifier:     &stubNotifier{},
	}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Gateway:        h.gateway,
		Orders:         h.orders,
		Identity:       h.ident,
		Notifier:       h.notifier,
		PublishableKey: " pk_test_123 ",
		Currency:       "USD",
		Logger:         h.logs.log,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	h.svc = svc
	return h
}

func (h *paymentHarness) webhook(event PaymentWebhookEvent) {
	h.gateway.parseFn = func([]byte, string) (PaymentWebhookEvent, error) {
		return event, nil
	}
}

func TestPaymentServicePublishableKey(t *testing.T) {
	h := newPaymentHarness(t)
	if got := h.svc.PublishableKey(); got != "pk_test_123" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	h := newPaymentHarness(t)
	order := h.placeAliceOrder(t)

	result, err := h.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentCommand{
		OrderID:   order.ID,
		Principal: principalOf(h.alice),
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}
	if result.ClientSecret != "pi_test_secret" || result.PaymentIntentID != "pi_test" || result.Currency != "usd" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.Amount.Equal(decimal.RequireFromString("31.48")) {
		t.Fatalf("expected amount 31.48, got %s", result.Amount)
	}
	if len(h.gateway.requests) != 1 {
		t.Fatalf("expected one gateway call")
	}
	req := h.gateway.requests[0]
	if req.OrderID != order.ID || req.CustomerEmail != "alice@example.com" || !req.Amount.Equal(order.TotalPrice) {
		t.Fatalf("unexpected gateway request %+v", req)
	}
}

func TestCreatePaymentIntentRejections(t *testing.T) {
	h := newPaymentHarness(t)
	order := h.placeAliceOrder(t)
	paid := h.placeAliceOrder(t)
	h.pay(t, paid.ID)

	tests := []struct {
		name string
		cmd  CreatePaymentIntentCommand
		want error
	}{
		{name: "missing order id", cmd: CreatePaymentIntentCommand{Principal: principalOf(h.alice)}, want: ErrPaymentInvalidInput},
		{name: "unknown order", cmd: CreatePaymentIntentCommand{OrderID: "nope", Principal: principalOf(h.alice)}, want: ErrOrderNotFound},
		{name: "other customer", cmd: CreatePaymentIntentCommand{OrderID: order.ID, Principal: principalOf(h.bob)}, want: ErrOrderForbidden},
		{name: "restaurant admin", cmd: CreatePaymentIntentCommand{OrderID: order.ID, Principal: principalOf(h.chef)}, want: ErrOrderForbidden},
		{name: "already paid", cmd: CreatePaymentIntentCommand{OrderID: paid.ID, Principal: principalOf(h.alice)}, want: ErrOrderInvalidState},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.CreatePaymentIntent(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(h.gateway.requests) != 0 {
		t.Fatalf("rejected calls must not reach the gateway")
	}
}

func TestCreatePaymentIntentGatewayFailure(t *testing.T) {
	h := newPaymentHarness(t)
	order := h.placeAliceOrder(t)
	h.gateway.createFn = func(context.Context, PaymentIntentRequest) (PaymentIntent, error) {
		return PaymentIntent{}, errors.New("stripe: timeout")
	}

	_, err := h.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentCommand{OrderID: order.ID, Principal: principalOf(h.admin)})
	if !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected ErrPaymentUnavailable, got %v", err)
	}
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	h := newPaymentHarness(t)
	h.gateway.parseFn = func([]byte, string) (PaymentWebhookEvent, error) {
		return PaymentWebhookEvent{}, ErrPaymentSignatureInvalid
	}

	if err := h.svc.HandleWebhook(context.Background(), []byte(`{}`), "bad"); !errors.Is(err, ErrPaymentSignatureInvalid) {
		t.Fatalf("expected ErrPaymentSignatureInvalid, got %v", err)
	}
}

func TestHandleWebhookSuccess(t *testing.T) {
	h := newPaymentHarness(t)
	order := h.placeAliceOrder(t)
	h.webhook(PaymentWebhookEvent{ID: "evt_1", Type: PaymentEventIntentSucceeded, IntentID: "pi_abc", OrderID: order.ID})

	if err := h.svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	stored := h.stored(t, order.ID)
	if stored.Status != domain.OrderStatusPlaced || stored.PaymentIntentID != "pi_abc" {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if len(h.notifier.successes) != 1 || len(h.notifier.restaurant) != 1 || h.notifier.restaurant[0] != order.ID+":r1" {
		t.Fatalf("unexpected notifications %+v", h.notifier)
	}

	if err := h.svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("replayed webhook: %v", err)
	}
	if len(h.notifier.successes) != 1 {
		t.Fatalf("replayed webhook must not notify again")
	}
	if !h.logs.has("payment.webhook.duplicate") {
		t.Fatalf("expected duplicate log")
	}
}

func TestHandleWebhookFailure(t *testing.T) {
	h := newPaymentHarness(t)
	order := h.placeAliceOrder(t)
	h.webhook(PaymentWebhookEvent{ID: "evt_2", Type: PaymentEventIntentFailed, IntentID: "pi_abc", OrderID: order.ID, FailureMessage: "Your card was declined."})

	if err := h.svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	stored := h.stored(t, order.ID)
	if stored.Status != domain.OrderStatusFailed || stored.PaymentStatusDetail != "Payment failed: Your card was declined." {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if len(h.notifier.failures) != 1 || h.notifier.failures[0] != order.ID+":Your card was declined." {
		t.Fatalf("unexpected failure notifications %v", h.notifier.failures)
	}
}

func TestHandleWebhookSwallowsProcessingErrors(t *testing.T) {
	tests := []struct {
		name  string
		event PaymentWebhookEvent
		log   string
	}{
		{name: "ignored type", event: PaymentWebhookEvent{Type: "charge.refunded", OrderID: "x"}, log: "payment.webhook.ignored"},
		{name: "missing order id", event: PaymentWebhookEvent{Type: PaymentEventIntentSucceeded, IntentID: "pi"}, log: "payment.webhook.order_id.missing"},
		{name: "unknown order", event: PaymentWebhookEvent{Type: PaymentEventIntentSucceeded, IntentID: "pi", OrderID: "nope"}, log: "payment.webhook.process.failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newPaymentHarness(t)
			h.webhook(tc.event)
			if err := h.svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			if !h.logs.has(tc.log) {
				t.Fatalf("expected log %q, got %v", tc.log, h.logs.events)
			}
		})
	}
}

func TestHandleWebhookNotificationFailureIsLogged(t *testing.T) {
	h := newPaymentHarness(t)
	order := h.placeAliceOrder(t)
	h.notifier.err = errors.New("smtp down")
	h.webhook(PaymentWebhookEvent{Type: PaymentEventIntentSucceeded, IntentID: "pi", OrderID: order.ID})

	if err := h.svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if h.stored(t, order.ID).Status != domain.OrderStatusPlaced {
		t.Fatalf("notification failure must not undo the transition")
	}
	if !h.logs.has("payment.notify.customer.failed") || !h.logs.has("payment.notify.restaurant.failed") {
		t.Fatalf("expected notification failures to be logged, got %v", h.logs.events)
	}
}
