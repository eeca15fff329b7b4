// Package payments implements services.PaymentGateway on top of Stripe.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/config"
	"github.com/foodcourt/api/internal/services"
)

const (
	metadataOrderID       = "order_id"
	metadataCustomerEmail = "customer_email_for_order"
)

type paymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the gateway. Intents replaces the live Stripe client.
type StripeGatewayConfig struct {
	SecretKey     string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        *zap.Logger
	Intents       paymentIntentAPI
}

// StripeGateway creates payment intents and verifies Stripe webhook payloads.
type StripeGateway struct {
	intents       paymentIntentAPI
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeGateway constructs a gateway from explicit settings.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	intents := cfg.Intents
	if intents == nil {
		if secret == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		intents = client.New(secret, cfg.Backends).PaymentIntents
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{intents: intents, webhookSecret: webhookSecret, logger: logger}, nil
}

// NewStripeGatewayFromConfig builds the live gateway from application config.
func NewStripeGatewayFromConfig(cfg config.StripeConfig, logger *zap.Logger) (*StripeGateway, error) {
	return NewStripeGateway(StripeGatewayConfig{
		SecretKey:     cfg.SecretKey,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        logger,
	})
}

// CreatePaymentIntent creates an intent for the order total in minor units.
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req services.PaymentIntentRequest) (services.PaymentIntent, error) {
	amount := domain.MinorUnits(req.Amount)
	if amount <= 0 {
		return services.PaymentIntent{}, fmt.Errorf("stripe: amount must be positive, got %s", req.Amount)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{metadataOrderID: req.OrderID},
	}
	params.Context = ctx
	params.SetIdempotencyKey("order-" + req.OrderID + "-" + currency)
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
		params.Metadata[metadataCustomerEmail] = email
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return services.PaymentIntent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	g.logger.Info("payments.stripe.intent.created",
		zap.String("paymentIntent", intent.ID),
		zap.String("orderId", req.OrderID),
		zap.Int64("amount", intent.Amount),
	)
	return services.PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.Amount,
		Currency:     string(intent.Currency),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the payment intent fields.
// An intent payload that cannot be decoded yields an event without an order id.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (services.PaymentWebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return services.PaymentWebhookEvent{}, fmt.Errorf("%w: %v", services.ErrPaymentSignatureInvalid, err)
	}

	result := services.PaymentWebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(result.Type, "payment_intent.") || event.Data == nil {
		return result, nil
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		g.logger.Warn("payments.stripe.webhook.decode_failed", zap.String("eventId", event.ID), zap.Error(err))
		return result, nil
	}
	result.IntentID = intent.ID
	result.OrderID = strings.TrimSpace(intent.Metadata[metadataOrderID])
	if intent.LastPaymentError != nil {
		result.FailureMessage = intent.LastPaymentError.Msg
	}
	return result, nil
}
