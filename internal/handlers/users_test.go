package handlers

import (
	"net/http"
	"testing"

	"github.com/foodcourt/api/internal/platform/idempotency"
)

func TestCartEndpointsFlow(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/users/alice/cart", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get empty cart: %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
	if items := decodeMap(t, rec)["items"].([]any); len(items) != 0 {
		t.Fatalf("expected empty cart, got %v", items)
	}

	h.do(t, http.MethodPost, "/api/v1/users/alice/cart/items", "alice", map[string]any{"restaurantId": "r1", "menuItemId": "101", "quantity": 2})
	rec = h.do(t, http.MethodPost, "/api/v1/users/alice/cart/items", "alice", map[string]any{"restaurantId": "r1", "menuItemId": "102", "quantity": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: %d %s", rec.Code, rec.Body.String())
	}
	cart := decodeMap(t, rec)
	if cart["totalPrice"] != "31.48" || cart["restaurantId"] != "r1" || len(cart["items"].([]any)) != 2 {
		t.Fatalf("unexpected cart %v", cart)
	}

	rec = h.do(t, http.MethodPut, "/api/v1/users/alice/cart/items/101", "alice", map[string]any{"quantity": 1})
	if rec.Code != http.StatusOK || decodeMap(t, rec)["totalPrice"] != "18.49" {
		t.Fatalf("update quantity: %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/users/alice/cart/items/102", "alice", nil)
	if rec.Code != http.StatusOK || decodeMap(t, rec)["totalPrice"] != "12.99" {
		t.Fatalf("remove item: %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/users/alice/cart", "alice", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear cart: %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/cart", "alice", nil)
	if items := decodeMap(t, rec)["items"].([]any); len(items) != 0 {
		t.Fatalf("expected cleared cart, got %v", items)
	}
}

func TestCartEndpointErrors(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/api/v1/users/alice/cart/items", "alice", map[string]any{"restaurantId": "r1", "menuItemId": "101", "quantity": 1})

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{name: "no credentials", method: http.MethodGet, path: "/api/v1/users/alice/cart", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "unknown token", method: http.MethodGet, path: "/api/v1/users/alice/cart", user: "mallory", status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "other customer", method: http.MethodGet, path: "/api/v1/users/alice/cart", user: "bob", status: http.StatusForbidden, code: "forbidden"},
		{name: "restaurant admin", method: http.MethodGet, path: "/api/v1/users/alice/cart", user: "luigi", status: http.StatusForbidden, code: "forbidden"},
		{name: "admin unknown user", method: http.MethodGet, path: "/api/v1/users/ghost/cart", user: "root", status: http.StatusNotFound, code: "user_not_found"},
		{name: "item from another restaurant", method: http.MethodPost, path: "/api/v1/users/alice/cart/items", user: "alice", body: map[string]any{"restaurantId": "r1", "menuItemId": "201", "quantity": 1}, status: http.StatusUnprocessableEntity, code: "cart_update_failed"},
		{name: "zero quantity", method: http.MethodPost, path: "/api/v1/users/alice/cart/items", user: "alice", body: map[string]any{"restaurantId": "r1", "menuItemId": "101", "quantity": 0}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", method: http.MethodPost, path: "/api/v1/users/alice/cart/items", user: "alice", body: `{"menuItemId":"101","extra":true}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "item not in cart", method: http.MethodPut, path: "/api/v1/users/alice/cart/items/999", user: "alice", body: map[string]any{"quantity": 2}, status: http.StatusNotFound, code: "cart_item_not_found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, tc.method, tc.path, tc.user, tc.body)
			assertError(t, rec, tc.status, tc.code)
		})
	}
}

func TestAdminActsOnCustomerCart(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/users/alice/cart/items", "root", map[string]any{"restaurantId": "r1", "menuItemId": "102", "quantity": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin add: %d %s", rec.Code, rec.Body.String())
	}
	if cart := decodeMap(t, rec); cart["userId"] != "u-alice" || cart["totalPrice"] != "16.5" {
		t.Fatalf("unexpected cart %v", cart)
	}
}

func TestPlaceOrderFromCart(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/users/alice/orders/place-from-cart", "alice", nil)
	assertError(t, rec, http.StatusConflict, "empty_cart")

	h.do(t, http.MethodPost, "/api/v1/users/alice/cart/items", "alice", map[string]any{"restaurantId": "r1", "menuItemId": "101", "quantity": 2})
	rec = h.do(t, http.MethodPost, "/api/v1/users/alice/orders/place-from-cart", "alice", map[string]any{
		"delivery": map[string]any{"addressLine1": "1 Main St", "city": "Springfield"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order: %d %s", rec.Code, rec.Body.String())
	}
	order := decodeMap(t, rec)
	if order["status"] != "PENDING_PAYMENT" || order["totalPrice"] != "25.98" || order["customerId"] != "u-alice" {
		t.Fatalf("unexpected order %v", order)
	}
	if delivery := order["delivery"].(map[string]any); delivery["city"] != "Springfield" {
		t.Fatalf("unexpected delivery %v", delivery)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/cart", "alice", nil)
	if items := decodeMap(t, rec)["items"].([]any); len(items) != 0 {
		t.Fatalf("cart should be cleared after placement, got %v", items)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/users/alice/orders/place-from-cart", "bob", nil)
	assertError(t, rec, http.StatusForbidden, "forbidden")
}

func TestPlaceOrderIdempotencyReplay(t *testing.T) {
	store := idempotency.NewMemoryStore()
	h := newAPIHarness(t, func(cfg *harnessConfig) {
		cfg.idempotency = idempotency.Middleware(store)
	})
	h.do(t, http.MethodPost, "/api/v1/users/alice/cart/items", "alice", map[string]any{"restaurantId": "r1", "menuItemId": "102", "quantity": 1})

	headers := map[string]string{"Idempotency-Key": "place-1"}
	first := h.doWithHeaders(t, http.MethodPost, "/api/v1/users/alice/orders/place-from-cart", "alice", nil, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first placement: %d %s", first.Code, first.Body.String())
	}
	second := h.doWithHeaders(t, http.MethodPost, "/api/v1/users/alice/orders/place-from-cart", "alice", nil, headers)
	if second.Code != http.StatusCreated || second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay, got %d %v", second.Code, second.Header())
	}
	if decodeMap(t, first)["id"] != decodeMap(t, second)["id"] {
		t.Fatalf("replay must return the same order")
	}

	rec := h.do(t, http.MethodGet, "/api/v1/users/alice/orders", "alice", nil)
	if items := decodeMap(t, rec)["items"].([]any); len(items) != 1 {
		t.Fatalf("expected a single order, got %d", len(items))
	}
}

func TestOrderHistoryEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	first := h.placeAliceOrder(t)
	h.pay(t, first)
	second := h.placeAliceOrder(t)

	rec := h.do(t, http.MethodGet, "/api/v1/users/alice/orders", "alice", nil)
	items := decodeMap(t, rec)["items"].([]any)
	if rec.Code != http.StatusOK || len(items) != 2 {
		t.Fatalf("list orders: %d %s", rec.Code, rec.Body.String())
	}
	if items[0].(map[string]any)["id"] != second {
		t.Fatalf("expected newest order first, got %v", items[0])
	}

	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders/paged?page_size=1", "alice", nil)
	page := decodeMap(t, rec)
	if rec.Code != http.StatusOK || len(page["items"].([]any)) != 1 || page["nextPageToken"] == nil {
		t.Fatalf("paged orders: %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders/paged?page_size=1&page_token="+page["nextPageToken"].(string), "alice", nil)
	page = decodeMap(t, rec)
	if rec.Code != http.StatusOK || page["items"].([]any)[0].(map[string]any)["id"] != first {
		t.Fatalf("second page: %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders/filtered?status=PLACED", "alice", nil)
	items = decodeMap(t, rec)["items"].([]any)
	if rec.Code != http.StatusOK || len(items) != 1 || items[0].(map[string]any)["id"] != first {
		t.Fatalf("filtered orders: %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders/filtered?status=placed,pending_payment&from=2000-01-01", "alice", nil)
	if items = decodeMap(t, rec)["items"].([]any); len(items) != 2 {
		t.Fatalf("expected both orders, got %d", len(items))
	}

	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders/filtered?status=LOST", "alice", nil)
	assertError(t, rec, http.StatusBadRequest, "invalid_request")
	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders/filtered?from=yesterday", "alice", nil)
	assertError(t, rec, http.StatusBadRequest, "invalid_request")
	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders/paged?page_token=not-base64!", "alice", nil)
	assertError(t, rec, http.StatusBadRequest, "invalid_page_token")
	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders", "bob", nil)
	assertError(t, rec, http.StatusForbidden, "forbidden")
}

func TestOrderStatisticsEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	first := h.placeAliceOrder(t)
	h.pay(t, first)
	h.placeAliceOrder(t)

	rec := h.do(t, http.MethodGet, "/api/v1/users/alice/orders/statistics", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics: %d %s", rec.Code, rec.Body.String())
	}
	stats := decodeMap(t, rec)
	if stats["totalOrders"] != float64(2) || stats["totalSpent"] != "62.96" || stats["averageOrderAmount"] != "31.48" {
		t.Fatalf("unexpected stats %v", stats)
	}
	byStatus := stats["ordersByStatus"].(map[string]any)
	if byStatus["PLACED"] != float64(1) || byStatus["PENDING_PAYMENT"] != float64(1) {
		t.Fatalf("unexpected status counts %v", byStatus)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/users/alice/orders/statistics", "bob", nil)
	assertError(t, rec, http.StatusForbidden, "forbidden")
}

func TestParseDateParam(t *testing.T) {
	to, err := parseDateParam("2025-03-03", true)
	if err != nil || to.Format("15:04:05") != "23:59:59" {
		t.Fatalf("expected end of day, got %v %v", to, err)
	}
	from, err := parseDateParam("2025-03-03T10:00:00+02:00", false)
	if err != nil || from.Hour() != 8 {
		t.Fatalf("expected UTC conversion, got %v %v", from, err)
	}
	if got, err := parseDateParam(" ", false); got != nil || err != nil {
		t.Fatalf("blank value should be absent")
	}
}
