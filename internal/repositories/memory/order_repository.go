package memory

import (
	"context"
	"slices"
	"sort"
	"strings"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/pagination"
	"github.com/foodcourt/api/internal/repositories"
)

// OrderRepository stores orders keyed by id.
type OrderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.NewConflictError("memory.orders.insert", "order id is required")
	}
	var exists bool
	r.store.locked(ctx, func() {
		if _, exists = r.store.orders[id]; exists {
			return
		}
		r.store.orders[id] = order.Clone()
	})
	if exists {
		return repositories.NewConflictError("memory.orders.insert", "order %s already exists", id)
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	id := strings.TrimSpace(order.ID)
	var err error
	r.store.locked(ctx, func() {
		current, ok := r.store.orders[id]
		if !ok {
			err = repositories.NewNotFoundError("memory.orders.update_status", "order %s not found", id)
			return
		}
		if current.Status != expected {
			err = repositories.NewConflictError("memory.orders.update_status", "order %s status is %s, expected %s", id, current.Status, expected)
			return
		}
		r.store.orders[id] = order.Clone()
	})
	return err
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	var (
		order domain.Order
		ok    bool
	)
	r.store.locked(ctx, func() {
		order, ok = r.store.orders[orderID]
	})
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("memory.orders.get", "order %s not found", orderID)
	}
	return order.Clone(), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.NormalisePageSize(filter.Pagination.PageSize, pagination.Options{})

	var matched []domain.Order
	r.store.locked(ctx, func() {
		for _, order := range r.store.orders {
			if matchesFilter(order, filter) {
				matched = append(matched, order.Clone())
			}
		}
	})
	sortNewestFirst(matched)

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, pageSize)}
	for _, order := range matched {
		if !cursor.Before(order.CreatedAt, order.ID) {
			continue
		}
		if len(page.Items) == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func (r *OrderRepository) ListAllByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	customerID = strings.TrimSpace(customerID)
	var result []domain.Order
	r.store.locked(ctx, func() {
		for _, order := range r.store.orders {
			if order.CustomerID == customerID {
				result = append(result, order.Clone())
			}
		}
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func matchesFilter(order domain.Order, filter repositories.OrderListFilter) bool {
	if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
		return false
	}
	if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
		return false
	}
	if from := filter.DateRange.From; from != nil && order.CreatedAt.Before(*from) {
		return false
	}
	if to := filter.DateRange.To; to != nil && order.CreatedAt.After(*to) {
		return false
	}
	return true
}

func sortNewestFirst(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
