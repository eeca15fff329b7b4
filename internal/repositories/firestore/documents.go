package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/foodcourt/api/internal/domain"
)

// Money is stored as a decimal string so totals survive the round trip exactly.

type cartDocument struct {
	RestaurantID   string             `firestore:"restaurantId,omitempty"`
	RestaurantName string             `firestore:"restaurantName,omitempty"`
	Items          []cartItemDocument `firestore:"items"`
	TotalPrice     string             `firestore:"totalPrice"`
	CreatedAt      time.Time          `firestore:"createdAt"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	MenuItemID   string `firestore:"menuItemId"`
	MenuItemName string `firestore:"menuItemName"`
	Quantity     int    `firestore:"quantity"`
	UnitPrice    string `firestore:"unitPrice"`
	TotalPrice   string `firestore:"totalPrice"`
}

type orderDocument struct {
	CustomerID          string              `firestore:"customerId"`
	RestaurantID        string              `firestore:"restaurantId"`
	Status              string              `firestore:"status"`
	TotalPrice          string              `firestore:"totalPrice"`
	Items               []orderItemDocument `firestore:"items"`
	Delivery            deliveryDocument    `firestore:"delivery"`
	PaymentIntentID     string              `firestore:"paymentIntentId,omitempty"`
	PaymentStatusDetail string              `firestore:"paymentStatusDetail,omitempty"`
	CreatedAt           time.Time           `firestore:"createdAt"`
	UpdatedAt           time.Time           `firestore:"updatedAt"`
	PlacedAt            *time.Time          `firestore:"placedAt,omitempty"`
	ConfirmedAt         *time.Time          `firestore:"confirmedAt,omitempty"`
	PreparingAt         *time.Time          `firestore:"preparingAt,omitempty"`
	ReadyAt             *time.Time          `firestore:"readyAt,omitempty"`
	OutForDeliveryAt    *time.Time          `firestore:"outForDeliveryAt,omitempty"`
	DeliveredAt         *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt         *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	MenuItemID     string `firestore:"menuItemId"`
	MenuItemName   string `firestore:"menuItemName"`
	Quantity       int    `firestore:"quantity"`
	UnitPrice      string `firestore:"unitPrice"`
	ItemTotalPrice string `firestore:"itemTotalPrice"`
}

type deliveryDocument struct {
	AddressLine1        string `firestore:"addressLine1,omitempty"`
	AddressLine2        string `firestore:"addressLine2,omitempty"`
	City                string `firestore:"city,omitempty"`
	State               string `firestore:"state,omitempty"`
	PostalCode          string `firestore:"postalCode,omitempty"`
	Country             string `firestore:"country,omitempty"`
	ContactNumber       string `firestore:"contactNumber,omitempty"`
	SpecialInstructions string `firestore:"specialInstructions,omitempty"`
}

type userDocument struct {
	Username string   `firestore:"username"`
	Email    string   `firestore:"email,omitempty"`
	Roles    []string `firestore:"roles,omitempty"`
}

type restaurantDocument struct {
	Name         string   `firestore:"name"`
	ContactEmail string   `firestore:"contactEmail,omitempty"`
	AdminUserIDs []string `firestore:"adminUserIds"`
}

func toCartDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		RestaurantID:   cart.RestaurantID,
		RestaurantName: cart.RestaurantName,
		Items:          make([]cartItemDocument, 0, len(cart.Items)),
		TotalPrice:     cart.TotalPrice.String(),
		CreatedAt:      cart.CreatedAt.UTC(),
		UpdatedAt:      cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			MenuItemID:   item.MenuItemID,
			MenuItemName: item.MenuItemName,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice.String(),
			TotalPrice:   item.TotalPrice.String(),
		})
	}
	return doc
}

func fromCartDocument(userID string, doc cartDocument) (domain.Cart, error) {
	total, err := parseMoney(doc.TotalPrice)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := domain.Cart{
		UserID:         userID,
		RestaurantID:   doc.RestaurantID,
		RestaurantName: doc.RestaurantName,
		Items:          make([]domain.CartItem, 0, len(doc.Items)),
		TotalPrice:     total,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		unit, err := parseMoney(item.UnitPrice)
		if err != nil {
			return domain.Cart{}, err
		}
		line, err := parseMoney(item.TotalPrice)
		if err != nil {
			return domain.Cart{}, err
		}
		cart.Items = append(cart.Items, domain.CartItem{
			MenuItemID:   item.MenuItemID,
			MenuItemName: item.MenuItemName,
			Quantity:     item.Quantity,
			UnitPrice:    unit,
			TotalPrice:   line,
		})
	}
	return cart, nil
}

func toOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		CustomerID:          order.CustomerID,
		RestaurantID:        order.RestaurantID,
		Status:              string(order.Status),
		TotalPrice:          order.TotalPrice.String(),
		Items:               make([]orderItemDocument, 0, len(order.Items)),
		Delivery:            deliveryDocument(order.Delivery),
		PaymentIntentID:     order.PaymentIntentID,
		PaymentStatusDetail: order.PaymentStatusDetail,
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
		PlacedAt:            utcPtr(order.PlacedAt),
		ConfirmedAt:         utcPtr(order.ConfirmedAt),
		PreparingAt:         utcPtr(order.PreparingAt),
		ReadyAt:             utcPtr(order.ReadyAt),
		OutForDeliveryAt:    utcPtr(order.OutForDeliveryAt),
		DeliveredAt:         utcPtr(order.DeliveredAt),
		CancelledAt:         utcPtr(order.CancelledAt),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			MenuItemID:     item.MenuItemID,
			MenuItemName:   item.MenuItemName,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice.String(),
			ItemTotalPrice: item.ItemTotalPrice.String(),
		})
	}
	return doc
}

func fromOrderDocument(id string, doc orderDocument) (domain.Order, error) {
	total, err := parseMoney(doc.TotalPrice)
	if err != nil {
		return domain.Order{}, err
	}
	order := domain.Order{
		ID:                  id,
		CustomerID:          doc.CustomerID,
		RestaurantID:        doc.RestaurantID,
		Status:              domain.OrderStatus(doc.Status),
		TotalPrice:          total,
		Items:               make([]domain.OrderItem, 0, len(doc.Items)),
		Delivery:            domain.DeliveryDetails(doc.Delivery),
		PaymentIntentID:     doc.PaymentIntentID,
		PaymentStatusDetail: doc.PaymentStatusDetail,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
		PlacedAt:            doc.PlacedAt,
		ConfirmedAt:         doc.ConfirmedAt,
		PreparingAt:         doc.PreparingAt,
		ReadyAt:             doc.ReadyAt,
		OutForDeliveryAt:    doc.OutForDeliveryAt,
		DeliveredAt:         doc.DeliveredAt,
		CancelledAt:         doc.CancelledAt,
	}
	for _, item := range doc.Items {
		unit, err := parseMoney(item.UnitPrice)
		if err != nil {
			return domain.Order{}, err
		}
		line, err := parseMoney(item.ItemTotalPrice)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			MenuItemID:     item.MenuItemID,
			MenuItemName:   item.MenuItemName,
			Quantity:       item.Quantity,
			UnitPrice:      unit,
			ItemTotalPrice: line,
		})
	}
	return order, nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
