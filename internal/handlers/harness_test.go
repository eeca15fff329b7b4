package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/foodcourt/api/internal/catalog"
	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/auth"
	"github.com/foodcourt/api/internal/repositories/memory"
	"github.com/foodcourt/api/internal/services"
)

var testMenu = []services.MenuItemDetails{
	{ID: "101", Name: "Margherita", Price: decimal.RequireFromString("12.99"), RestaurantID: "r1", RestaurantName: "Luigi's", Available: true},
	{ID: "102", Name: "Garlic Bread", Price: decimal.RequireFromString("5.50"), RestaurantID: "r1", RestaurantName: "Luigi's", Available: true},
	{ID: "201", Name: "Pad Thai", Price: decimal.RequireFromString("9.75"), RestaurantID: "r2", RestaurantName: "Thai Palace", Available: true},
}

var testUsers = map[string]services.User{
	"alice": {ID: "u-alice", Username: "alice", Email: "alice@example.com", Roles: []services.Role{domain.RoleCustomer}},
	"bob":   {ID: "u-bob", Username: "bob", Email: "bob@example.com", Roles: []services.Role{domain.RoleCustomer}},
	"root":  {ID: "u-admin", Username: "root", Roles: []services.Role{domain.RoleAdmin}},
	"luigi": {ID: "u-chef", Username: "luigi", Roles: []services.Role{domain.RoleRestaurantAdmin}},
	"som":   {ID: "u-som", Username: "som", Roles: []services.Role{domain.RoleRestaurantAdmin}},
}

// testGateway accepts the signature "valid" and reads {"type","orderId","intentId"} from the payload.
type testGateway struct{}

func (testGateway) CreatePaymentIntent(_ context.Context, req services.PaymentIntentRequest) (services.PaymentIntent, error) {
	return services.PaymentIntent{
		ID:           "pi_" + req.OrderID,
		ClientSecret: "pi_" + req.OrderID + "_secret",
		AmountMinor:  domain.MinorUnits(req.Amount),
		Currency:     req.Currency,
	}, nil
}

func (testGateway) ParseWebhook(payload []byte, signature string) (services.PaymentWebhookEvent, error) {
	if signature != "valid" {
		return services.PaymentWebhookEvent{}, services.ErrPaymentSignatureInvalid
	}
	var body struct {
		Type     string `json:"type"`
		OrderID  string `json:"orderId"`
		IntentID string `json:"intentId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return services.PaymentWebhookEvent{}, services.ErrPaymentSignatureInvalid
	}
	return services.PaymentWebhookEvent{ID: "evt_" + body.OrderID, Type: body.Type, IntentID: body.IntentID, OrderID: body.OrderID}, nil
}

type quietNotifier struct{}

func (quietNotifier) SendPaymentSuccess(context.Context, services.Order, services.User) error {
	return nil
}

func (quietNotifier) SendPaymentFailure(context.Context, services.Order, services.User, string) error {
	return nil
}

func (quietNotifier) NotifyRestaurantNewOrder(context.Context, services.Order, services.Restaurant) error {
	return nil
}

type apiHarness struct {
	store    *memory.Store
	orders   services.OrderService
	payments services.PaymentService
	router   http.Handler
}

type harnessConfig struct {
	idempotency    func(http.Handler) http.Handler
	paymentOptions []PaymentOption
	routerOptions  []Option
}

func newAPIHarness(t *testing.T, mutators ...func(*harnessConfig)) *apiHarness {
	t.Helper()
	ctx := context.Background()
	cfg := harnessConfig{}
	for _, mutate := range mutators {
		mutate(&cfg)
	}

	store := memory.NewStore()
	for _, u := range testUsers {
		if err := store.Users().Upsert(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	for _, r := range []services.Restaurant{
		{ID: "r1", Name: "Luigi's", AdminUserIDs: []string{"u-chef"}},
		{ID: "r2", Name: "Thai Palace", AdminUserIDs: []string{"u-som"}},
	} {
		if err := store.Restaurants().Upsert(ctx, r); err != nil {
			t.Fatalf("seed restaurant: %v", err)
		}
	}

	ident, err := services.NewIdentityAccess(store.Users(), store.Restaurants())
	if err != nil {
		t.Fatalf("NewIdentityAccess: %v", err)
	}
	authz, err := services.NewAuthorizationGate(ident)
	if err != nil {
		t.Fatalf("NewAuthorizationGate: %v", err)
	}
	carts, err := services.NewCartService(services.CartServiceDeps{
		Repository: store.Carts(),
		Catalog:    catalog.NewStub(testMenu...),
		UnitOfWork: store,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        store.Orders(),
		Carts:         carts,
		Identity:      ident,
		Authorization: authz,
		UnitOfWork:    store,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	stats, err := services.NewOrderStatisticsService(services.OrderStatisticsServiceDeps{
		Orders:        store.Orders(),
		Identity:      ident,
		Authorization: authz,
	})
	if err != nil {
		t.Fatalf("NewOrderStatisticsService: %v", err)
	}
	payments, err := services.NewPaymentService(services.PaymentServiceDeps{
		Gateway:        testGateway{},
		Orders:         orders,
		Identity:       ident,
		Notifier:       quietNotifier{},
		PublishableKey: "pk_test_handlers",
		Currency:       "usd",
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	authn := auth.NewAuthenticator(auth.VerifierFunc(func(_ context.Context, token string) (*auth.Identity, error) {
		user, ok := testUsers[strings.TrimPrefix(token, "token-")]
		if !ok {
			return nil, auth.ErrTokenInvalid
		}
		return &auth.Identity{UID: user.ID, Username: user.Username, Email: user.Email, Roles: user.Roles}, nil
	}))

	users := NewUserHandlers(UserHandlersDeps{
		Authenticator: authn,
		Authorization: authz,
		Identity:      ident,
		Carts:         carts,
		Orders:        orders,
		Statistics:    stats,
		Idempotency:   cfg.idempotency,
	})
	payHandlers := NewPaymentHandlers(authn, payments, cfg.paymentOptions...)

	opts := []Option{
		WithUserRoutes(users.Routes),
		WithOrderRoutes(NewOrderHandlers(authn, orders).Routes),
		WithPaymentRoutes(payHandlers.Routes),
		WithWebhookRoutes(payHandlers.WebhookRoutes),
	}
	opts = append(opts, cfg.routerOptions...)

	return &apiHarness{
		store:    store,
		orders:   orders,
		payments: payments,
		router:   NewRouter(opts...),
	}
}

// do sends a request as username; an empty username sends no credentials.
func (h *apiHarness) do(t *testing.T, method, path, username string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return h.doWithHeaders(t, method, path, username, body, nil)
}

func (h *apiHarness) doWithHeaders(t *testing.T, method, path, username string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader.Len() > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if username != "" {
		req.Header.Set("Authorization", "Bearer token-"+username)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

// placeAliceOrder fills alice's cart and places an order, returning its id.
func (h *apiHarness) placeAliceOrder(t *testing.T) string {
	t.Helper()
	for _, item := range []map[string]any{
		{"restaurantId": "r1", "menuItemId": "101", "quantity": 2},
		{"restaurantId": "r1", "menuItemId": "102", "quantity": 1},
	} {
		if rec := h.do(t, http.MethodPost, "/api/v1/users/alice/cart/items", "alice", item); rec.Code != http.StatusOK {
			t.Fatalf("add item: %d %s", rec.Code, rec.Body.String())
		}
	}
	rec := h.do(t, http.MethodPost, "/api/v1/users/alice/orders/place-from-cart", "alice", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order: %d %s", rec.Code, rec.Body.String())
	}
	return decodeMap(t, rec)["id"].(string)
}

// pay marks the order paid through the webhook endpoint.
func (h *apiHarness) pay(t *testing.T, orderID string) {
	t.Helper()
	rec := h.doWithHeaders(t, http.MethodPost, "/api/v1/webhooks/stripe", "", map[string]string{
		"type":     services.PaymentEventIntentSucceeded,
		"orderId":  orderID,
		"intentId": "pi_" + orderID,
	}, map[string]string{"Stripe-Signature": "valid"})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if got := decodeMap(t, rec)["error"]; got != code {
		t.Fatalf("expected error %q, got %v", code, got)
	}
}
