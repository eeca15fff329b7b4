package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodcourt/api/internal/platform/config"
	"github.com/foodcourt/api/internal/services"
)

func TestStubGetItem(t *testing.T) {
	ctx := context.Background()
	stub := NewStub(services.MenuItemDetails{ID: "101", Name: "Margherita", Price: decimal.RequireFromString("12.50"), RestaurantID: "r1", Available: true})

	item, err := stub.GetItem(ctx, "101", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Margherita", item.Name)

	_, err = stub.GetItem(ctx, "101", "r2")
	assert.ErrorIs(t, err, services.ErrCatalogItemNotFound)

	stub.Clear()
	_, err = stub.GetItem(ctx, "101", "r1")
	assert.ErrorIs(t, err, services.ErrCatalogItemNotFound)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, tripAfter int) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewHTTPClient(config.CatalogConfig{
		BaseURL:     srv.URL + "/",
		Timeout:     time.Second,
		TripAfter:   tripAfter,
		OpenTimeout: time.Minute,
	})
	require.NoError(t, err)
	return client
}

func TestHTTPClientGetItem(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/restaurants/r1/menu-items/101":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"101","name":"Margherita","price":"12.50","restaurantId":"r1","restaurantName":"Luigi's","available":true}`))
		case "/restaurants/r2/menu-items/101":
			_, _ = w.Write([]byte(`{"id":"101","price":1,"restaurantId":"r1"}`))
		default:
			http.NotFound(w, r)
		}
	}, 3)
	ctx := context.Background()

	item, err := client.GetItem(ctx, "101", "r1")
	require.NoError(t, err)
	assert.True(t, item.Price.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, "Luigi's", item.RestaurantName)
	assert.True(t, item.Available)

	_, err = client.GetItem(ctx, "999", "r1")
	assert.ErrorIs(t, err, services.ErrCatalogItemNotFound)

	_, err = client.GetItem(ctx, "101", "r2")
	assert.ErrorIs(t, err, services.ErrCatalogItemNotFound)
}

func TestHTTPClientBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.GetItem(ctx, "101", "r1")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	_, err := client.GetItem(ctx, "101", "r1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "open breaker must short-circuit")
}

func TestHTTPClientNotFoundDoesNotTrip(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}, 1)

	for i := 0; i < 3; i++ {
		_, err := client.GetItem(context.Background(), "x", "r1")
		assert.True(t, errors.Is(err, services.ErrCatalogItemNotFound))
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestNewHTTPClientRejectsBadURL(t *testing.T) {
	_, err := NewHTTPClient(config.CatalogConfig{BaseURL: "not a url"})
	assert.Error(t, err)
}
