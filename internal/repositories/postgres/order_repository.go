package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/pagination"
	"github.com/foodcourt/api/internal/repositories"
)

const orderColumns = `id, customer_id, restaurant_id, status, total_price::text, payment_intent_id, payment_status_detail,
	address_line1, address_line2, city, state, postal_code, country, contact_number, special_instructions,
	created_at, updated_at, placed_at, confirmed_at, preparing_at, ready_at, out_for_delivery_at, delivered_at, cancelled_at`

// OrderRepository stores orders in the orders and order_items tables. Status changes lock the
// row with SELECT ... FOR UPDATE before comparing the stored status.
type OrderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewConflictError("postgres.orders.insert", "order id is required")
	}
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		q := r.store.querier(ctx)
		d := order.Delivery
		_, err := q.Exec(ctx, `INSERT INTO orders (id, customer_id, restaurant_id, status, total_price, payment_intent_id,
			payment_status_detail, address_line1, address_line2, city, state, postal_code, country, contact_number,
			special_instructions, created_at, updated_at, placed_at, confirmed_at, preparing_at, ready_at,
			out_for_delivery_at, delivered_at, cancelled_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
			order.ID, order.CustomerID, order.RestaurantID, string(order.Status), order.TotalPrice.String(),
			order.PaymentIntentID, order.PaymentStatusDetail,
			d.AddressLine1, d.AddressLine2, d.City, d.State, d.PostalCode, d.Country, d.ContactNumber, d.SpecialInstructions,
			order.CreatedAt.UTC(), order.UpdatedAt.UTC(), order.PlacedAt, order.ConfirmedAt, order.PreparingAt,
			order.ReadyAt, order.OutForDeliveryAt, order.DeliveredAt, order.CancelledAt)
		if err != nil {
			return mapError("postgres.orders.insert", err)
		}

		batch := &pgx.Batch{}
		for i, item := range order.Items {
			batch.Queue(`INSERT INTO order_items (order_id, position, menu_item_id, menu_item_name, quantity, unit_price, item_total_price)
				VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
				order.ID, i, item.MenuItemID, item.MenuItemName, item.Quantity, item.UnitPrice.String(), item.ItemTotalPrice.String())
		}
		if batch.Len() == 0 {
			return nil
		}
		return mapError("postgres.orders.insert_items", q.SendBatch(ctx, batch).Close())
	})
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	id := strings.TrimSpace(order.ID)
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		q := r.store.querier(ctx)
		var current string
		if err := q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
			return mapError("postgres.orders.update_status", err)
		}
		if domain.OrderStatus(current) != expected {
			return repositories.NewConflictError("postgres.orders.update_status", "order %s status is %s, expected %s", id, current, expected)
		}
		_, err := q.Exec(ctx, `UPDATE orders SET status = $2, payment_intent_id = $3, payment_status_detail = $4,
			updated_at = $5, placed_at = $6, confirmed_at = $7, preparing_at = $8, ready_at = $9,
			out_for_delivery_at = $10, delivered_at = $11, cancelled_at = $12
			WHERE id = $1`,
			id, string(order.Status), order.PaymentIntentID, order.PaymentStatusDetail, order.UpdatedAt.UTC(),
			order.PlacedAt, order.ConfirmedAt, order.PreparingAt, order.ReadyAt, order.OutForDeliveryAt,
			order.DeliveredAt, order.CancelledAt)
		if err != nil {
			return mapError("postgres.orders.update_status", err)
		}
		if current != string(order.Status) {
			_, err = q.Exec(ctx, `INSERT INTO order_status_log (order_id, from_status, to_status, changed_at) VALUES ($1, $2, $3, $4)`,
				id, current, string(order.Status), order.UpdatedAt.UTC())
		}
		return mapError("postgres.orders.status_log", err)
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orders, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, repositories.NewNotFoundError("postgres.orders.get", "order %s not found", orderID)
	}
	return orders[0], nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.NormalisePageSize(filter.Pagination.PageSize, pagination.Options{})

	var (
		where []string
		args  []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.CustomerID != "" {
		where = append(where, "customer_id = "+arg(filter.CustomerID))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if from := filter.DateRange.From; from != nil {
		where = append(where, "created_at >= "+arg(from.UTC()))
	}
	if to := filter.DateRange.To; to != nil {
		where = append(where, "created_at <= "+arg(to.UTC()))
	}
	if !cursor.IsZero() {
		where = append(where, "(created_at, id) < ("+arg(cursor.CreatedAt.UTC())+", "+arg(cursor.ID)+")")
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, id DESC LIMIT " + arg(pageSize+1)

	orders, err := r.query(ctx, sql, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		page.Items = orders[:pageSize]
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (r *OrderRepository) ListAllByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at ASC, id ASC`,
		strings.TrimSpace(customerID))
}

func (r *OrderRepository) query(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	q := r.store.querier(ctx)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("postgres.orders.query", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, mapError("postgres.orders.scan", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		index[order.ID] = i
	}
	itemRows, err := q.Query(ctx, `SELECT order_id, menu_item_id, menu_item_name, quantity, unit_price::text, item_total_price::text
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return nil, mapError("postgres.order_items.query", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var (
			orderID     string
			item        domain.OrderItem
			unit, total string
		)
		if err := itemRows.Scan(&orderID, &item.MenuItemID, &item.MenuItemName, &item.Quantity, &unit, &total); err != nil {
			return nil, mapError("postgres.order_items.scan", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, err
		}
		if item.ItemTotalPrice, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return orders, mapError("postgres.order_items.rows", itemRows.Err())
}

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		total  string
		d      = &order.Delivery
	)
	err := row.Scan(&order.ID, &order.CustomerID, &order.RestaurantID, &status, &total,
		&order.PaymentIntentID, &order.PaymentStatusDetail,
		&d.AddressLine1, &d.AddressLine2, &d.City, &d.State, &d.PostalCode, &d.Country, &d.ContactNumber, &d.SpecialInstructions,
		&order.CreatedAt, &order.UpdatedAt, &order.PlacedAt, &order.ConfirmedAt, &order.PreparingAt,
		&order.ReadyAt, &order.OutForDeliveryAt, &order.DeliveredAt, &order.CancelledAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if order.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return domain.Order{}, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.Items = []domain.OrderItem{}
	return order, nil
}
