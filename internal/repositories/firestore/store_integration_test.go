package firestore_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/config"
	pfirestore "github.com/foodcourt/api/internal/platform/firestore"
	"github.com/foodcourt/api/internal/repositories"
	fsrepo "github.com/foodcourt/api/internal/repositories/firestore"
)

func newEmulatorStore(t *testing.T) *fsrepo.Store {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "foodcourt-test", EmulatorHost: host})
	store, err := fsrepo.NewStore(provider)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func testOrder(customerID string, created time.Time) domain.Order {
	return domain.Order{
		ID:           "ord_" + ulid.Make().String(),
		CustomerID:   customerID,
		RestaurantID: "r1",
		Status:       domain.OrderStatusPendingPayment,
		TotalPrice:   decimal.RequireFromString("31.48"),
		Items: []domain.OrderItem{
			{MenuItemID: "101", MenuItemName: "Margherita", Quantity: 2, UnitPrice: decimal.RequireFromString("12.99"), ItemTotalPrice: decimal.RequireFromString("25.98")},
			{MenuItemID: "102", MenuItemName: "Garlic Bread", Quantity: 1, UnitPrice: decimal.RequireFromString("5.50"), ItemTotalPrice: decimal.RequireFromString("5.50")},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestFirestoreCartRoundTrip(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	userID := "u-" + ulid.Make().String()

	_, err := store.Carts().GetCart(ctx, userID)
	require.True(t, repositories.IsNotFound(err), "expected not found, got %v", err)

	cart := domain.Cart{
		UserID:       userID,
		RestaurantID: "r1",
		Items: []domain.CartItem{
			{MenuItemID: "101", MenuItemName: "Margherita", Quantity: 2, UnitPrice: decimal.RequireFromString("12.99"), TotalPrice: decimal.RequireFromString("25.98")},
		},
		TotalPrice: decimal.RequireFromString("25.98"),
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.Carts().SaveCart(ctx, cart))

	got, err := store.Carts().GetCart(ctx, userID)
	require.NoError(t, err)
	assert.True(t, got.TotalPrice.Equal(cart.TotalPrice))
	assert.Len(t, got.Items, 1)

	require.NoError(t, store.Carts().DeleteCart(ctx, userID))
	require.NoError(t, store.Carts().DeleteCart(ctx, userID))
}

func TestFirestoreOrderStatusCompareAndSwap(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	order := testOrder("u-"+ulid.Make().String(), time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, store.Orders().Insert(ctx, order))
	require.True(t, repositories.IsConflict(store.Orders().Insert(ctx, order)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := order.Clone()
			next.Status = domain.OrderStatusPlaced
			next.PaymentIntentID = fmt.Sprintf("pi_%d", i)
			if err := store.Orders().UpdateStatus(ctx, next, domain.OrderStatusPendingPayment); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.True(t, repositories.IsConflict(err), "unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	stored, err := store.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPlaced, stored.Status)
}

func TestFirestoreOrderListPaging(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	customerID := "u-" + ulid.Make().String()
	base := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		order := testOrder(customerID, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.Orders().Insert(ctx, order))
		ids = append(ids, order.ID)
	}

	var seen []string
	token := ""
	for {
		page, err := store.Orders().List(ctx, repositories.OrderListFilter{
			CustomerID: customerID,
			Pagination: domain.Pagination{PageSize: 2, PageToken: token},
		})
		require.NoError(t, err)
		for _, order := range page.Items {
			seen = append(seen, order.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	require.Len(t, seen, 5)
	assert.Equal(t, ids[4], seen[0])
	assert.Equal(t, ids[0], seen[4])

	all, err := store.Orders().ListAllByCustomer(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], all[0].ID)
}

func TestFirestoreRunInTxRollsBack(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	order := testOrder("u-"+ulid.Make().String(), time.Now().UTC())

	boom := fmt.Errorf("abort")
	err := store.RunInTx(ctx, func(ctx context.Context) error {
		if err := store.Orders().Insert(ctx, order); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Orders().FindByID(ctx, order.ID)
	assert.True(t, repositories.IsNotFound(err))
}
