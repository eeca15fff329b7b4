package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/repositories"
)

// OrderStatisticsServiceDeps wires the statistics service.
type OrderStatisticsServiceDeps struct {
	Orders        repositories.OrderRepository
	Identity      IdentityAccess
	Authorization AuthorizationGate
	Logger        func(context.Context, string, map[string]any)
}

type orderStatisticsService struct {
	orders   repositories.OrderRepository
	identity IdentityAccess
	authz    AuthorizationGate
	logger   func(context.Context, string, map[string]any)
}

// NewOrderStatisticsService constructs the read-only statistics service.
func NewOrderStatisticsService(deps OrderStatisticsServiceDeps) (OrderStatisticsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order statistics: order repository is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("order statistics: identity access is required")
	}
	if deps.Authorization == nil {
		return nil, errors.New("order statistics: authorization gate is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderStatisticsService{
		orders:   deps.Orders,
		identity: deps.Identity,
		authz:    deps.Authorization,
		logger:   logger,
	}, nil
}

func (s *orderStatisticsService) GetOrderStatistics(ctx context.Context, query OrderStatisticsQuery) (OrderStatistics, error) {
	target := strings.TrimSpace(query.TargetUsername)
	if target == "" {
		return OrderStatistics{}, fmt.Errorf("%w: username is required", ErrOrderInvalidInput)
	}
	if err := s.authz.AuthorizeActForUser(ctx, query.Principal, target); err != nil {
		if errors.Is(err, ErrOrderForbidden) {
			return OrderStatistics{}, fmt.Errorf("%w: You are not authorized to view statistics for this user.", ErrOrderForbidden)
		}
		return OrderStatistics{}, err
	}
	customer, err := s.identity.ResolveUser(ctx, target)
	if err != nil {
		return OrderStatistics{}, err
	}

	orders, err := s.orders.ListAllByCustomer(ctx, customer.ID)
	if err != nil {
		return OrderStatistics{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	stats := computeOrderStatistics(customer.ID, orders)

	if stats.MostOrderedRestaurantID != "" {
		restaurant, err := s.identity.FindRestaurant(ctx, stats.MostOrderedRestaurantID)
		switch {
		case err == nil:
			stats.MostOrderedRestaurantName = restaurant.Name
		case !errors.Is(err, ErrRestaurantNotFound):
			s.logger(ctx, "order.statistics.restaurant.lookup.failed", map[string]any{
				"restaurantId": stats.MostOrderedRestaurantID,
				"error":        err.Error(),
			})
		}
	}
	return stats, nil
}

// computeOrderStatistics aggregates orders for one customer. The most ordered restaurant breaks
// ties on the lowest restaurant id.
func computeOrderStatistics(customerID string, orders []Order) OrderStatistics {
	stats := OrderStatistics{
		CustomerID:         customerID,
		TotalSpent:         decimal.Zero,
		AverageOrderAmount: decimal.Zero,
		OrdersByStatus:     make(map[OrderStatus]int),
	}
	if len(orders) == 0 {
		return stats
	}

	perRestaurant := make(map[string]int)
	total := decimal.Zero
	for _, order := range orders {
		total = total.Add(order.TotalPrice)
		stats.OrdersByStatus[order.Status]++
		if order.RestaurantID != "" {
			perRestaurant[order.RestaurantID]++
		}

		created := order.CreatedAt
		if stats.FirstOrderDate == nil || created.Before(*stats.FirstOrderDate) {
			first := created
			stats.FirstOrderDate = &first
		}
		if stats.LastOrderDate == nil || created.After(*stats.LastOrderDate) {
			last := created
			stats.LastOrderDate = &last
		}
	}

	stats.TotalOrders = len(orders)
	stats.TotalSpent = domain.RoundMoney(total)
	if !stats.TotalSpent.IsZero() {
		stats.AverageOrderAmount = domain.RoundMoney(stats.TotalSpent.Div(decimal.NewFromInt(int64(stats.TotalOrders))))
	}

	stats.RestaurantCount = len(perRestaurant)
	for restaurantID, count := range perRestaurant {
		if count > stats.MostOrderedRestaurantCount ||
			(count == stats.MostOrderedRestaurantCount && restaurantID < stats.MostOrderedRestaurantID) {
			stats.MostOrderedRestaurantID = restaurantID
			stats.MostOrderedRestaurantCount = count
		}
	}
	return stats
}
