package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/auth"
	"github.com/foodcourt/api/internal/platform/httpx"
	"github.com/foodcourt/api/internal/platform/pagination"
	"github.com/foodcourt/api/internal/services"
)

const maxUserBodySize = 16 * 1024

// UserHandlersDeps wires the /users/{username} endpoints.
type UserHandlersDeps struct {
	Authenticator *auth.Authenticator
	Authorization services.AuthorizationGate
	Identity      services.IdentityAccess
	Carts         services.CartService
	Orders        services.OrderService
	Statistics    services.OrderStatisticsService
	// Idempotency guards place-order; nil disables it.
	Idempotency func(http.Handler) http.Handler
}

// UserHandlers exposes cart and order-history endpoints scoped to a username.
type UserHandlers struct {
	deps UserHandlersDeps
}

// NewUserHandlers constructs the handlers.
func NewUserHandlers(deps UserHandlersDeps) *UserHandlers {
	return &UserHandlers{deps: deps}
}

// Routes registers the endpoints relative to /users.
func (h *UserHandlers) Routes(r chi.Router) {
	if h.deps.Authenticator != nil {
		r.Use(h.deps.Authenticator.RequireAuth())
	}
	r.Route("/{username}", func(r chi.Router) {
		r.Get("/cart", h.getCart)
		r.Delete("/cart", h.clearCart)
		r.Post("/cart/items", h.addCartItem)
		r.Put("/cart/items/{menuItemID}", h.updateCartItem)
		r.Delete("/cart/items/{menuItemID}", h.removeCartItem)

		place := http.Handler(http.HandlerFunc(h.placeOrder))
		if h.deps.Idempotency != nil {
			place = h.deps.Idempotency(place)
		}
		r.Method(http.MethodPost, "/orders/place-from-cart", place)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/paged", h.listOrdersPaged)
		r.Get("/orders/filtered", h.listOrdersFiltered)
		r.Get("/orders/statistics", h.orderStatistics)
	})
}

// cartOwner authorizes the caller against the path username and resolves the target user.
func (h *UserHandlers) cartOwner(w http.ResponseWriter, r *http.Request) (services.User, bool) {
	ctx := r.Context()
	if h.deps.Carts == nil || h.deps.Identity == nil || h.deps.Authorization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return services.User{}, false
	}
	principal, ok := principalFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.User{}, false
	}
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if err := h.deps.Authorization.AuthorizeActForUser(ctx, principal, username); err != nil {
		writeServiceError(ctx, w, err)
		return services.User{}, false
	}
	user, err := h.deps.Identity.ResolveUser(ctx, username)
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.User{}, false
	}
	return user, true
}

func (h *UserHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	user, ok := h.cartOwner(w, r)
	if !ok {
		return
	}
	cart, err := h.deps.Carts.GetCart(r.Context(), user.ID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

type addCartItemRequest struct {
	RestaurantID string `json:"restaurantId"`
	MenuItemID   string `json:"menuItemId"`
	Quantity     int    `json:"quantity"`
}

func (h *UserHandlers) addCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.cartOwner(w, r)
	if !ok {
		return
	}
	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	cart, err := h.deps.Carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:       user.ID,
		RestaurantID: strings.TrimSpace(req.RestaurantID),
		MenuItemID:   strings.TrimSpace(req.MenuItemID),
		Quantity:     req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *UserHandlers) updateCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.cartOwner(w, r)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if err := httpx.DecodeJSON(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	cart, err := h.deps.Carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		UserID:     user.ID,
		MenuItemID: strings.TrimSpace(chi.URLParam(r, "menuItemID")),
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *UserHandlers) removeCartItem(w http.ResponseWriter, r *http.Request) {
	user, ok := h.cartOwner(w, r)
	if !ok {
		return
	}
	cart, err := h.deps.Carts.RemoveItem(r.Context(), services.RemoveCartItemCommand{
		UserID:     user.ID,
		MenuItemID: strings.TrimSpace(chi.URLParam(r, "menuItemID")),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *UserHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	user, ok := h.cartOwner(w, r)
	if !ok {
		return
	}
	if err := h.deps.Carts.ClearCart(r.Context(), user.ID); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type placeOrderRequest struct {
	Delivery *deliveryPayload `json:"delivery"`
}

func (h *UserHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.orderPrincipal(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, maxUserBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	cmd := services.PlaceOrderCommand{
		TargetUsername: strings.TrimSpace(chi.URLParam(r, "username")),
		Principal:      principal,
	}
	if req.Delivery != nil {
		delivery := services.DeliveryDetails(*req.Delivery)
		cmd.Delivery = &delivery
	}
	order, err := h.deps.Orders.PlaceOrderFromCart(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *UserHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.orderPrincipal(w, r)
	if !ok {
		return
	}
	orders, err := h.deps.Orders.ListOrdersForUser(ctx, services.OrderHistoryQuery{
		TargetUsername: strings.TrimSpace(chi.URLParam(r, "username")),
		Principal:      principal,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(orders, ""))
}

func (h *UserHandlers) listOrdersPaged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.orderPrincipal(w, r)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.deps.Orders.ListOrdersForUserPaged(ctx, services.OrderHistoryQuery{
		TargetUsername: strings.TrimSpace(chi.URLParam(r, "username")),
		Principal:      principal,
		Pagination:     services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page.Items, page.NextPageToken))
}

func (h *UserHandlers) listOrdersFiltered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.orderPrincipal(w, r)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	query := r.URL.Query()
	statuses, err := parseStatuses(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	from, err := parseDateParam(query.Get("from"), false)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}
	to, err := parseDateParam(query.Get("to"), true)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}
	page, err := h.deps.Orders.ListFilteredOrdersForUser(ctx, services.OrderHistoryQuery{
		TargetUsername: strings.TrimSpace(chi.URLParam(r, "username")),
		Principal:      principal,
		Statuses:       statuses,
		From:           from,
		To:             to,
		Pagination:     services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page.Items, page.NextPageToken))
}

func (h *UserHandlers) orderStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := principalFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.deps.Statistics == nil {
		httpx.WriteError(ctx, w, httpx.NewError("statistics_unavailable", "statistics service is unavailable", http.StatusServiceUnavailable))
		return
	}
	stats, err := h.deps.Statistics.GetOrderStatistics(ctx, services.OrderStatisticsQuery{
		TargetUsername: strings.TrimSpace(chi.URLParam(r, "username")),
		Principal:      principal,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStatisticsPayload(stats))
}

func (h *UserHandlers) orderPrincipal(w http.ResponseWriter, r *http.Request) (services.Principal, bool) {
	ctx := r.Context()
	if h.deps.Orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return services.Principal{}, false
	}
	principal, ok := principalFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Principal{}, false
	}
	return principal, true
}

func principalFrom(ctx context.Context) (services.Principal, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return services.Principal{}, false
	}
	return identity.Principal(), true
}

func writeCart(w http.ResponseWriter, status int, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, status, buildCartPayload(cart))
}

// parseStatuses accepts repeated or comma separated status values.
func parseStatuses(values []string) ([]services.OrderStatus, error) {
	var statuses []services.OrderStatus
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(raw)
			if !ok {
				return nil, fmt.Errorf("unknown order status %q", strings.TrimSpace(raw))
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

// parseDateParam reads RFC3339 timestamps or plain dates. A plain upper bound covers the whole day.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}
