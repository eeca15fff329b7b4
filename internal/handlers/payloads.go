package handlers

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/services"
)

type cartItemPayload struct {
	MenuItemID   string          `json:"menuItemId"`
	MenuItemName string          `json:"menuItemName"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
}

type cartPayload struct {
	UserID         string            `json:"userId"`
	RestaurantID   string            `json:"restaurantId,omitempty"`
	RestaurantName string            `json:"restaurantName,omitempty"`
	Items          []cartItemPayload `json:"items"`
	TotalPrice     decimal.Decimal   `json:"totalPrice"`
	UpdatedAt      *time.Time        `json:"updatedAt,omitempty"`
}

type deliveryPayload struct {
	AddressLine1        string `json:"addressLine1,omitempty"`
	AddressLine2        string `json:"addressLine2,omitempty"`
	City                string `json:"city,omitempty"`
	State               string `json:"state,omitempty"`
	PostalCode          string `json:"postalCode,omitempty"`
	Country             string `json:"country,omitempty"`
	ContactNumber       string `json:"contactNumber,omitempty"`
	SpecialInstructions string `json:"specialInstructions,omitempty"`
}

type orderItemPayload struct {
	MenuItemID     string          `json:"menuItemId"`
	MenuItemName   string          `json:"menuItemName"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	ItemTotalPrice decimal.Decimal `json:"itemTotalPrice"`
}

type orderPayload struct {
	ID                  string             `json:"id"`
	CustomerID          string             `json:"customerId"`
	RestaurantID        string             `json:"restaurantId"`
	Status              string             `json:"status"`
	TotalPrice          decimal.Decimal    `json:"totalPrice"`
	OrderItems          []orderItemPayload `json:"orderItems"`
	Delivery            *deliveryPayload   `json:"delivery,omitempty"`
	PaymentIntentID     string             `json:"paymentIntentId,omitempty"`
	PaymentStatusDetail string             `json:"paymentStatusDetail,omitempty"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
	PlacedAt            *time.Time         `json:"placedAt,omitempty"`
	ConfirmedAt         *time.Time         `json:"confirmedAt,omitempty"`
	PreparingAt         *time.Time         `json:"preparingAt,omitempty"`
	ReadyAt             *time.Time         `json:"readyAt,omitempty"`
	OutForDeliveryAt    *time.Time         `json:"outForDeliveryAt,omitempty"`
	DeliveredAt         *time.Time         `json:"deliveredAt,omitempty"`
	CancelledAt         *time.Time         `json:"cancelledAt,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type statisticsPayload struct {
	CustomerID            string           `json:"customerId"`
	TotalOrders           int              `json:"totalOrders"`
	TotalSpent            decimal.Decimal  `json:"totalSpent"`
	AverageOrderAmount    decimal.Decimal  `json:"averageOrderAmount"`
	OrdersByStatus        map[string]int   `json:"ordersByStatus"`
	FirstOrderDate        *time.Time       `json:"firstOrderDate,omitempty"`
	LastOrderDate         *time.Time       `json:"lastOrderDate,omitempty"`
	RestaurantCount       int              `json:"restaurantCount"`
	MostOrderedRestaurant *restaurantCount `json:"mostOrderedRestaurant,omitempty"`
}

type restaurantCount struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Count int    `json:"count"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		UserID:         cart.UserID,
		RestaurantID:   cart.RestaurantID,
		RestaurantName: cart.RestaurantName,
		Items:          make([]cartItemPayload, 0, len(cart.Items)),
		TotalPrice:     domain.RoundMoney(cart.TotalPrice),
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			MenuItemID:   item.MenuItemID,
			MenuItemName: item.MenuItemName,
			Quantity:     item.Quantity,
			UnitPrice:    domain.RoundMoney(item.UnitPrice),
			TotalPrice:   domain.RoundMoney(item.TotalPrice),
		})
	}
	if !cart.UpdatedAt.IsZero() {
		updated := cart.UpdatedAt.UTC()
		payload.UpdatedAt = &updated
	}
	return payload
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                  order.ID,
		CustomerID:          order.CustomerID,
		RestaurantID:        order.RestaurantID,
		Status:              string(order.Status),
		TotalPrice:          domain.RoundMoney(order.TotalPrice),
		OrderItems:          make([]orderItemPayload, 0, len(order.Items)),
		PaymentIntentID:     order.PaymentIntentID,
		PaymentStatusDetail: order.PaymentStatusDetail,
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
		PlacedAt:            order.PlacedAt,
		ConfirmedAt:         order.ConfirmedAt,
		PreparingAt:         order.PreparingAt,
		ReadyAt:             order.ReadyAt,
		OutForDeliveryAt:    order.OutForDeliveryAt,
		DeliveredAt:         order.DeliveredAt,
		CancelledAt:         order.CancelledAt,
	}
	for _, item := range order.Items {
		payload.OrderItems = append(payload.OrderItems, orderItemPayload{
			MenuItemID:     item.MenuItemID,
			MenuItemName:   item.MenuItemName,
			Quantity:       item.Quantity,
			UnitPrice:      domain.RoundMoney(item.UnitPrice),
			ItemTotalPrice: domain.RoundMoney(item.ItemTotalPrice),
		})
	}
	if order.Delivery != (services.DeliveryDetails{}) {
		delivery := deliveryPayload(order.Delivery)
		payload.Delivery = &delivery
	}
	return payload
}

func buildOrderList(orders []services.Order, nextToken string) orderListResponse {
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{Items: items, NextPageToken: strings.TrimSpace(nextToken)}
}

func buildStatisticsPayload(stats services.OrderStatistics) statisticsPayload {
	payload := statisticsPayload{
		CustomerID:         stats.CustomerID,
		TotalOrders:        stats.TotalOrders,
		TotalSpent:         domain.RoundMoney(stats.TotalSpent),
		AverageOrderAmount: domain.RoundMoney(stats.AverageOrderAmount),
		OrdersByStatus:     make(map[string]int, len(stats.OrdersByStatus)),
		FirstOrderDate:     stats.FirstOrderDate,
		LastOrderDate:      stats.LastOrderDate,
		RestaurantCount:    stats.RestaurantCount,
	}
	for status, count := range stats.OrdersByStatus {
		payload.OrdersByStatus[string(status)] = count
	}
	if stats.MostOrderedRestaurantID != "" {
		payload.MostOrderedRestaurant = &restaurantCount{
			ID:    stats.MostOrderedRestaurantID,
			Name:  stats.MostOrderedRestaurantName,
			Count: stats.MostOrderedRestaurantCount,
		}
	}
	return payload
}
