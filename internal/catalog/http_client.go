package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/foodcourt/api/internal/platform/config"
	"github.com/foodcourt/api/internal/services"
)

// ErrUnavailable is returned while the breaker is open or the menu service is failing.
var ErrUnavailable = errors.New("catalog: service unavailable")

const maxResponseBytes = 64 * 1024

// HTTPClient fetches menu items from the menu service's JSON API.
type HTTPClient struct {
	baseURL *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[services.MenuItemDetails]
	logger  *zap.Logger
}

// Option customises the client.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(logger *zap.Logger) Option {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHTTPClient builds a client for cfg.BaseURL. The breaker opens after cfg.TripAfter
// consecutive failures and half-opens after cfg.OpenTimeout.
func NewHTTPClient(cfg config.CatalogConfig, opts ...Option) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("catalog: invalid base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tripAfter := uint32(5)
	if cfg.TripAfter > 0 {
		tripAfter = uint32(cfg.TripAfter)
	}

	c := &HTTPClient{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker[services.MenuItemDetails](gobreaker.Settings{
		Name:    "catalog",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, services.ErrCatalogItemNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("catalog.breaker.state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// GetItem resolves a menu item. Unknown items and items of another restaurant return
// services.ErrCatalogItemNotFound.
func (c *HTTPClient) GetItem(ctx context.Context, menuItemID, restaurantID string) (services.MenuItemDetails, error) {
	item, err := c.breaker.Execute(func() (services.MenuItemDetails, error) {
		return c.fetch(ctx, menuItemID, restaurantID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return services.MenuItemDetails{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return item, err
}

type menuItemPayload struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	RestaurantID   string          `json:"restaurantId"`
	RestaurantName string          `json:"restaurantName"`
	Available      bool            `json:"available"`
}

func (c *HTTPClient) fetch(ctx context.Context, menuItemID, restaurantID string) (services.MenuItemDetails, error) {
	endpoint := c.baseURL.JoinPath("restaurants", restaurantID, "menu-items", menuItemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return services.MenuItemDetails{}, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return services.MenuItemDetails{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return services.MenuItemDetails{}, fmt.Errorf("%w: %s in restaurant %s", services.ErrCatalogItemNotFound, menuItemID, restaurantID)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return services.MenuItemDetails{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload menuItemPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return services.MenuItemDetails{}, fmt.Errorf("%w: decode item: %v", ErrUnavailable, err)
	}
	if payload.RestaurantID != restaurantID {
		return services.MenuItemDetails{}, fmt.Errorf("%w: %s in restaurant %s", services.ErrCatalogItemNotFound, menuItemID, restaurantID)
	}
	if payload.ID == "" {
		payload.ID = menuItemID
	}
	return services.MenuItemDetails(payload), nil
}
