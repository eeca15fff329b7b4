package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/foodcourt/api/internal/platform/httpx"
	"github.com/foodcourt/api/internal/platform/pagination"
	"github.com/foodcourt/api/internal/platform/requestctx"
	"github.com/foodcourt/api/internal/services"
)

type errorMapping struct {
	target  error
	code    string
	status  int
	message string
}

// Ordered from most to least specific. An empty message exposes the wrapped error text.
var serviceErrorMappings = []errorMapping{
	{target: services.ErrUnauthenticated, code: "unauthenticated", status: http.StatusUnauthorized, message: "authentication required"},
	{target: services.ErrOrderForbidden, code: "forbidden", status: http.StatusForbidden},
	{target: services.ErrOrderNotAuthorized, code: "not_authorized", status: http.StatusForbidden},
	{target: services.ErrOrderInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrCartInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrPaymentInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrPaymentSignatureInvalid, code: "invalid_signature", status: http.StatusBadRequest, message: "webhook signature verification failed"},
	{target: pagination.ErrInvalidPageToken, code: "invalid_page_token", status: http.StatusBadRequest, message: "page token is invalid"},
	{target: pagination.ErrInvalidPageSize, code: "invalid_page_size", status: http.StatusBadRequest},
	{target: services.ErrOrderNotFound, code: "order_not_found", status: http.StatusNotFound},
	{target: services.ErrUserNotFound, code: "user_not_found", status: http.StatusNotFound},
	{target: services.ErrRestaurantNotFound, code: "restaurant_not_found", status: http.StatusNotFound},
	{target: services.ErrCartNotFound, code: "cart_not_found", status: http.StatusNotFound},
	{target: services.ErrCartItemNotInCart, code: "cart_item_not_found", status: http.StatusNotFound},
	{target: services.ErrOrderInvalidState, code: "illegal_order_state", status: http.StatusConflict},
	{target: services.ErrEmptyCart, code: "empty_cart", status: http.StatusConflict},
	{target: services.ErrNoRestaurantAssociated, code: "no_restaurant_associated", status: http.StatusConflict},
	{target: services.ErrOrderConflict, code: "order_conflict", status: http.StatusConflict, message: "order was modified concurrently; retry"},
	{target: services.ErrCartConflict, code: "cart_conflict", status: http.StatusConflict, message: "cart was modified concurrently; retry"},
	{target: services.ErrCartItemUnavailable, code: "cart_update_failed", status: http.StatusUnprocessableEntity},
	{target: services.ErrCartRestaurantMismatch, code: "cart_update_failed", status: http.StatusUnprocessableEntity},
	{target: services.ErrOrderUnavailable, code: "service_unavailable", status: http.StatusServiceUnavailable, message: "order store is unavailable"},
	{target: services.ErrCartUnavailable, code: "service_unavailable", status: http.StatusServiceUnavailable, message: "cart store is unavailable"},
	{target: services.ErrIdentityUnavailable, code: "service_unavailable", status: http.StatusServiceUnavailable, message: "identity store is unavailable"},
	{target: services.ErrPaymentUnavailable, code: "service_unavailable", status: http.StatusServiceUnavailable, message: "payment gateway is unavailable"},
}

// writeServiceError maps service sentinels onto the JSON error envelope. Unknown errors are
// logged and reported as 500 without leaking their text.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, m := range serviceErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		message := m.message
		if message == "" {
			message = err.Error()
		}
		httpx.WriteError(ctx, w, httpx.NewError(m.code, message, m.status))
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
		return
	}
	requestctx.Logger(ctx).Error("handler.unexpected_error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected server error", http.StatusInternalServerError))
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, httpx.ErrEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
	}
}
