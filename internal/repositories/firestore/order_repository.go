package firestore

import (
	"context"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/foodcourt/api/internal/domain"
	pfirestore "github.com/foodcourt/api/internal/platform/firestore"
	"github.com/foodcourt/api/internal/platform/pagination"
	"github.com/foodcourt/api/internal/repositories"
)

// OrderRepository stores orders keyed by order id. Status changes run in a transaction that
// re-reads the stored status before writing.
type OrderRepository struct {
	provider *pfirestore.Provider
	docs     *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.NewConflictError("firestore.orders.insert", "order id is required")
	}
	return r.docs.Create(ctx, id, toOrderDocument(order))
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	id := strings.TrimSpace(order.ID)
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.docs.Get(ctx, id)
		if err != nil {
			return err
		}
		if status := domain.OrderStatus(current.Data.Status); status != expected {
			return repositories.NewConflictError("firestore.orders.update_status", "order %s status is %s, expected %s", id, status, expected)
		}
		return r.docs.Set(ctx, id, toOrderDocument(order))
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewNotFoundError("firestore.orders.get", "order id is required")
	}
	doc, err := r.docs.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return fromOrderDocument(doc.ID, doc.Data)
}

// List pages newest first. The query needs a composite index on customerId, status and
// createdAt desc.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.NormalisePageSize(filter.Pagination.PageSize, pagination.Options{})

	docs, err := r.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.CustomerID != "" {
			q = q.Where("customerId", "==", filter.CustomerID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		if from := filter.DateRange.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil {
			q = q.Where("createdAt", "<=", to.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), pageSize))}
	for i, doc := range docs {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		order, err := fromOrderDocument(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func (r *OrderRepository) ListAllByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	customerID = strings.TrimSpace(customerID)
	docs, err := r.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID).
			OrderBy("createdAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := fromOrderDocument(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
