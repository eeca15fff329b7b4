package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/observability"
	"github.com/foodcourt/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog lookup is required")
)

const (
	cartOpAddItem        = "add_item"
	cartOpUpdateQuantity = "update_quantity"
	cartOpRemoveItem     = "remove_item"
	cartOpClear          = "clear"
	cartOpRelease        = "release_ordered"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartUnavailable indicates the cart backend or catalog could not serve the request.
	ErrCartUnavailable = errors.New("cart service: unavailable")
	// ErrCartNotFound indicates the user has no cart yet.
	ErrCartNotFound = errors.New("cart service: not found")
	// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
	ErrCartConflict = errors.New("cart service: conflict")
	// ErrCartItemNotInCart indicates the requested line is absent from the cart.
	ErrCartItemNotInCart = errors.New("cart service: item not in cart")
	// ErrCartItemUnavailable indicates the catalog has no such item or it is marked unavailable.
	ErrCartItemUnavailable = errors.New("cart service: item unavailable")
	// ErrCartRestaurantMismatch indicates the item belongs to a different restaurant than requested.
	ErrCartRestaurantMismatch = errors.New("cart service: restaurant mismatch")

	// ErrCatalogItemNotFound is returned by CatalogLookup implementations for unknown items.
	ErrCatalogItemNotFound = errors.New("catalog: item not found")
)

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Repository repositories.CartRepository
	Catalog    CatalogLookup
	UnitOfWork repositories.UnitOfWork
	Metrics    Metrics
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type cartService struct {
	repo       repositories.CartRepository
	catalog    CatalogLookup
	unitOfWork repositories.UnitOfWork
	metrics    Metrics
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		repo:       deps.Repository,
		catalog:    deps.Catalog,
		unitOfWork: unit,
		metrics:    metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, _, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (result Cart, err error) {
	userID := strings.TrimSpace(cmd.UserID)
	restaurantID := strings.TrimSpace(cmd.RestaurantID)
	menuItemID := strings.TrimSpace(cmd.MenuItemID)
	switch {
	case userID == "":
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	case restaurantID == "":
		return Cart{}, fmt.Errorf("%w: restaurant id is required", ErrCartInvalidInput)
	case menuItemID == "":
		return Cart{}, fmt.Errorf("%w: menu item id is required", ErrCartInvalidInput)
	case cmd.Quantity < 1:
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "cart.AddItem",
		attribute.String("cart.user_id", userID),
		attribute.String("cart.restaurant_id", restaurantID),
		attribute.String("cart.menu_item_id", menuItemID),
	)
	defer func() { observability.EndSpan(span, err) }()

	details, err := s.catalog.GetItem(ctx, menuItemID, restaurantID)
	if err != nil {
		if errors.Is(err, ErrCatalogItemNotFound) {
			return Cart{}, fmt.Errorf("%w: menu item %s not found for restaurant %s", ErrCartItemUnavailable, menuItemID, restaurantID)
		}
		return Cart{}, fmt.Errorf("%w: catalog lookup: %v", ErrCartUnavailable, err)
	}
	if !details.Available {
		return Cart{}, fmt.Errorf("%w: menu item %s is currently unavailable", ErrCartItemUnavailable, menuItemID)
	}
	if details.RestaurantID != restaurantID {
		return Cart{}, fmt.Errorf("%w: menu item %s does not belong to restaurant %s", ErrCartRestaurantMismatch, menuItemID, restaurantID)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		cart, _, err := s.loadCart(txCtx, userID)
		if err != nil {
			return err
		}

		if cart.RestaurantID != details.RestaurantID {
			if len(cart.Items) > 0 {
				s.logger(txCtx, "cart.restaurant.switched", map[string]any{
					"userId":       userID,
					"from":         cart.RestaurantID,
					"to":           details.RestaurantID,
					"droppedItems": len(cart.Items),
					"droppedTotal": cart.TotalPrice.StringFixed(domain.MoneyScale),
				})
			}
			cart.Items = nil
			cart.RestaurantID = details.RestaurantID
			cart.RestaurantName = details.RestaurantName
		}

		if idx := findCartLine(cart.Items, menuItemID); idx >= 0 {
			cart.Items[idx].Quantity += cmd.Quantity
		} else {
			cart.Items = append(cart.Items, CartItem{
				MenuItemID:   menuItemID,
				MenuItemName: details.Name,
				Quantity:     cmd.Quantity,
				UnitPrice:    domain.RoundMoney(details.Price),
			})
		}

		saved, err := s.persist(txCtx, cart)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	s.metrics.RecordCartMutation(ctx, cartOpAddItem)
	return result, nil
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (result Cart, err error) {
	userID := strings.TrimSpace(cmd.UserID)
	menuItemID := strings.TrimSpace(cmd.MenuItemID)
	switch {
	case userID == "":
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	case menuItemID == "":
		return Cart{}, fmt.Errorf("%w: menu item id is required", ErrCartInvalidInput)
	case cmd.Quantity < 1:
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "cart.UpdateItemQuantity",
		attribute.String("cart.user_id", userID),
		attribute.String("cart.menu_item_id", menuItemID),
	)
	defer func() { observability.EndSpan(span, err) }()

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.requireCart(txCtx, userID)
		if err != nil {
			return err
		}
		idx := findCartLine(cart.Items, menuItemID)
		if idx < 0 {
			return fmt.Errorf("%w: item %s not found in cart", ErrCartItemNotInCart, menuItemID)
		}
		cart.Items[idx].Quantity = cmd.Quantity

		saved, err := s.persist(txCtx, cart)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	s.metrics.RecordCartMutation(ctx, cartOpUpdateQuantity)
	return result, nil
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (result Cart, err error) {
	userID := strings.TrimSpace(cmd.UserID)
	menuItemID := strings.TrimSpace(cmd.MenuItemID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if menuItemID == "" {
		return Cart{}, fmt.Errorf("%w: menu item id is required", ErrCartInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "cart.RemoveItem",
		attribute.String("cart.user_id", userID),
		attribute.String("cart.menu_item_id", menuItemID),
	)
	defer func() { observability.EndSpan(span, err) }()

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.requireCart(txCtx, userID)
		if err != nil {
			return err
		}
		idx := findCartLine(cart.Items, menuItemID)
		if idx < 0 {
			return fmt.Errorf("%w: item %s not found in cart", ErrCartItemNotInCart, menuItemID)
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		if len(cart.Items) == 0 {
			cart.Items = nil
			cart.RestaurantID = ""
			cart.RestaurantName = ""
		}

		saved, err := s.persist(txCtx, cart)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	s.metrics.RecordCartMutation(ctx, cartOpRemoveItem)
	return result, nil
}

func (s *cartService) ClearCart(ctx context.Context, userID string) (err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "cart.ClearCart", attribute.String("cart.user_id", userID))
	defer func() { observability.EndSpan(span, err) }()

	cleared := false
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		cart, found, err := s.loadCart(txCtx, userID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		cart.Items = nil
		cart.RestaurantID = ""
		cart.RestaurantName = ""
		if _, err := s.persist(txCtx, cart); err != nil {
			return err
		}
		cleared = true
		return nil
	})
	if err != nil {
		return err
	}
	if cleared {
		s.metrics.RecordCartMutation(ctx, cartOpClear)
	}
	return nil
}

func (s *cartService) ReleaseOrderedItems(ctx context.Context, cmd ReleaseCartItemsCommand) (err error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "cart.ReleaseOrderedItems", attribute.String("cart.user_id", userID))
	defer func() { observability.EndSpan(span, err) }()

	released := false
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		released = false
		cart, found, err := s.loadCart(txCtx, userID)
		if err != nil {
			return err
		}
		if !found || cart.RestaurantID != strings.TrimSpace(cmd.RestaurantID) {
			return nil
		}
		for _, ordered := range cmd.Items {
			idx := findCartLine(cart.Items, ordered.MenuItemID)
			if idx < 0 {
				continue
			}
			released = true
			if cart.Items[idx].Quantity > ordered.Quantity {
				cart.Items[idx].Quantity -= ordered.Quantity
				continue
			}
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		}
		if !released {
			return nil
		}
		if len(cart.Items) == 0 {
			cart.Items = nil
			cart.RestaurantID = ""
			cart.RestaurantName = ""
		}
		_, err = s.persist(txCtx, cart)
		return err
	})
	if err != nil {
		return err
	}
	if released {
		s.metrics.RecordCartMutation(ctx, cartOpRelease)
	}
	return nil
}

// loadCart returns the stored cart, or a synthetic empty cart with found=false.
func (s *cartService) loadCart(ctx context.Context, userID string) (Cart, bool, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return emptyCart(userID), false, nil
		}
		return Cart{}, false, s.mapRepositoryError(err)
	}
	cart.UserID = userID
	return cart, true, nil
}

func (s *cartService) requireCart(ctx context.Context, userID string) (Cart, error) {
	cart, found, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if !found {
		return Cart{}, fmt.Errorf("%w: cart not found for user %s", ErrCartNotFound, userID)
	}
	return cart, nil
}

func (s *cartService) persist(ctx context.Context, cart Cart) (Cart, error) {
	now := s.now()
	cart = domain.RecalculateCart(cart)
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	if err := s.repo.SaveCart(ctx, cart); err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return cart, nil
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCartConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}

	return err
}

func (s *cartService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func emptyCart(userID string) Cart {
	return Cart{
		UserID:     userID,
		TotalPrice: decimal.Zero,
	}
}

func findCartLine(items []CartItem, menuItemID string) int {
	for i, item := range items {
		if item.MenuItemID == menuItemID {
			return i
		}
	}
	return -1
}
