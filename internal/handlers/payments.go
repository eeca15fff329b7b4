package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/foodcourt/api/internal/platform/auth"
	"github.com/foodcourt/api/internal/platform/httpx"
	"github.com/foodcourt/api/internal/platform/requestctx"
	"github.com/foodcourt/api/internal/services"
)

const (
	maxPaymentBodySize = 4 * 1024
	maxWebhookBodySize = 64 * 1024
	stripeSignature    = "Stripe-Signature"

	intentLimitPerMinute = 10
)

// PaymentHandlers exposes the publishable key, intent creation and the Stripe webhook.
type PaymentHandlers struct {
	authn       *auth.Authenticator
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
	limiter     *callerLimiter
}

// PaymentOption customises PaymentHandlers.
type PaymentOption func(*PaymentHandlers)

// WithPaymentIdempotency guards intent creation with the idempotency middleware.
func WithPaymentIdempotency(mw func(http.Handler) http.Handler) PaymentOption {
	return func(h *PaymentHandlers) {
		h.idempotency = mw
	}
}

// WithIntentRateLimit allows limit intent creations per caller per window. Zero disables it.
func WithIntentRateLimit(limit int, window time.Duration, clock func() time.Time) PaymentOption {
	return func(h *PaymentHandlers) {
		h.limiter = newCallerLimiter(limit, window, clock)
	}
}

// NewPaymentHandlers constructs the handlers.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...PaymentOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:    authn,
		payments: payments,
		limiter:  newCallerLimiter(intentLimitPerMinute, time.Minute, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the endpoints relative to /payments.
func (h *PaymentHandlers) Routes(r chi.Router) {
	r.Get("/stripe-publishable-key", h.publishableKey)
	r.Group(func(authed chi.Router) {
		if h.authn != nil {
			authed.Use(h.authn.RequireAuth())
		}
		authed.Use(rateLimit(h.limiter))
		if h.idempotency != nil {
			authed.Use(h.idempotency)
		}
		authed.Post("/create-intent", h.createIntent)
	})
}

// WebhookRoutes registers the endpoints relative to /webhooks.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	r.Post("/stripe", h.stripeWebhook)
}

type publishableKeyResponse struct {
	PublishableKey string `json:"publishableKey"`
}

func (h *PaymentHandlers) publishableKey(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, publishableKeyResponse{PublishableKey: h.payments.PublishableKey()})
}

type createIntentRequest struct {
	OrderID string `json:"orderId"`
}

type createIntentResponse struct {
	ClientSecret    string          `json:"clientSecret"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

func (h *PaymentHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	principal, ok := principalFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	var req createIntentRequest
	if err := httpx.DecodeJSON(r, maxPaymentBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	result, err := h.payments.CreatePaymentIntent(ctx, services.CreatePaymentIntentCommand{
		OrderID:   strings.TrimSpace(req.OrderID),
		Principal: principal,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, createIntentResponse{
		ClientSecret:    result.ClientSecret,
		PaymentIntentID: result.PaymentIntentID,
		Amount:          result.Amount,
		Currency:        result.Currency,
	})
}

type webhookAck struct {
	Received bool `json:"received"`
}

// stripeWebhook answers 400 only when the payload cannot be verified; every later outcome is
// acknowledged so Stripe stops retrying.
func (h *PaymentHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	payload, err := httpx.ReadLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := h.payments.HandleWebhook(ctx, payload, r.Header.Get(stripeSignature)); err != nil {
		if errors.Is(err, services.ErrPaymentSignatureInvalid) {
			requestctx.Logger(ctx).Warn("payment.webhook.signature_invalid", zap.Error(err))
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true})
}
