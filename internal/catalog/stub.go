// Package catalog adapts the menu service onto services.CatalogLookup.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/foodcourt/api/internal/services"
)

// Stub is an in-process catalog seeded with AddItem.
type Stub struct {
	mu    sync.RWMutex
	items map[string]services.MenuItemDetails
}

// NewStub returns a catalog seeded with items.
func NewStub(items ...services.MenuItemDetails) *Stub {
	s := &Stub{items: make(map[string]services.MenuItemDetails)}
	for _, item := range items {
		s.AddItem(item)
	}
	return s
}

// AddItem registers or replaces an item.
func (s *Stub) AddItem(item services.MenuItemDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// Clear drops every item.
func (s *Stub) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]services.MenuItemDetails)
}

// GetItem returns the item when it exists and belongs to restaurantID.
func (s *Stub) GetItem(_ context.Context, menuItemID, restaurantID string) (services.MenuItemDetails, error) {
	s.mu.RLock()
	item, ok := s.items[menuItemID]
	s.mu.RUnlock()
	if !ok || item.RestaurantID != restaurantID {
		return services.MenuItemDetails{}, fmt.Errorf("%w: %s in restaurant %s", services.ErrCatalogItemNotFound, menuItemID, restaurantID)
	}
	return item, nil
}
