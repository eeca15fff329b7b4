package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/auth"
	"github.com/foodcourt/api/internal/platform/httpx"
	"github.com/foodcourt/api/internal/services"
)

const maxCancelBodySize = 4 * 1024

type staffTransition func(context.Context, services.StaffTransitionCommand) (services.Order, error)

// OrderHandlers exposes order detail, cancellation and restaurant staff transitions.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelByCustomer)

	r.Group(func(staff chi.Router) {
		staff.Use(auth.RequireRole(domain.RoleRestaurantAdmin))
		if h.orders == nil {
			return
		}
		transitions := map[string]staffTransition{
			"confirm":            h.orders.ConfirmOrder,
			"prepare":            h.orders.MarkAsPreparing,
			"ready-for-pickup":   h.orders.MarkAsReadyForPickup,
			"picked-up":          h.orders.MarkAsPickedUp,
			"out-for-delivery":   h.orders.MarkAsOutForDelivery,
			"delivery-completed": h.orders.CompleteDelivery,
		}
		for action, fn := range transitions {
			staff.Put("/{orderID}/"+action, h.transition(fn))
		}
		staff.Put("/{orderID}/reject", h.cancelByRestaurant)
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, principal)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) transition(fn staffTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		principal, orderID, ok := h.orderRequest(w, r)
		if !ok {
			return
		}
		order, err := fn(ctx, services.StaffTransitionCommand{OrderID: orderID, Principal: principal})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelByCustomer(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, false)
}

func (h *OrderHandlers) cancelByRestaurant(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, true)
}

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request, byRestaurant bool) {
	ctx := r.Context()
	principal, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, maxCancelBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	cmd := services.CancelOrderCommand{
		OrderID:   orderID,
		Principal: principal,
		Reason:    strings.TrimSpace(req.Reason),
	}
	cancelFn := h.orders.CancelByCustomer
	if byRestaurant {
		cancelFn = h.orders.CancelByRestaurant
	}
	order, err := cancelFn(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) orderRequest(w http.ResponseWriter, r *http.Request) (services.Principal, string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return services.Principal{}, "", false
	}
	principal, ok := principalFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Principal{}, "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.Principal{}, "", false
	}
	return principal, orderID, true
}
