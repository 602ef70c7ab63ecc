package restaurant

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

// Directory хранит каталог ресторанов и меню в памяти.
// Используется сервером каталога для разработки и в тестах.
type Directory struct {
	mu          sync.RWMutex
	restaurants map[string]domain.Restaurant
	items       map[string]map[string]domain.MenuItem
}

// NewDirectory создаёт пустой каталог.
func NewDirectory() *Directory {
	return &Directory{
		restaurants: make(map[string]domain.Restaurant),
		items:       make(map[string]map[string]domain.MenuItem),
	}
}

// Put добавляет или заменяет ресторан вместе с меню.
func (d *Directory) Put(r domain.Restaurant, menu ...domain.MenuItem) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.restaurants[r.ID] = r
	items := make(map[string]domain.MenuItem, len(menu))
	for _, item := range menu {
		item.RestaurantID = r.ID
		items[item.ID] = item
	}
	d.items[r.ID] = items
}

// SetActive меняет признак приёма заказов.
func (d *Directory) SetActive(restaurantID string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.restaurants[restaurantID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRestaurantNotFound, restaurantID)
	}
	r.Active = active
	d.restaurants[restaurantID] = r
	return nil
}

// SetAvailable меняет доступность позиции меню.
func (d *Directory) SetAvailable(restaurantID, menuItemID string, available bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[restaurantID][menuItemID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", domain.ErrMenuItemNotFound, restaurantID, menuItemID)
	}
	item.Available = available
	d.items[restaurantID][menuItemID] = item
	return nil
}

// SetPrice меняет цену позиции меню.
func (d *Directory) SetPrice(restaurantID, menuItemID string, priceMinor int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[restaurantID][menuItemID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", domain.ErrMenuItemNotFound, restaurantID, menuItemID)
	}
	item.PriceMinor = priceMinor
	d.items[restaurantID][menuItemID] = item
	return nil
}

// Restaurants возвращает рестораны, отсортированные по ID.
func (d *Directory) Restaurants() []domain.Restaurant {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]domain.Restaurant, 0, len(d.restaurants))
	for _, r := range d.restaurants {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (d *Directory) GetRestaurant(_ context.Context, restaurantID string) (domain.Restaurant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.restaurants[restaurantID]
	if !ok {
		return domain.Restaurant{}, fmt.Errorf("%w: %s", domain.ErrRestaurantNotFound, restaurantID)
	}
	return r, nil
}

func (d *Directory) GetMenuItem(_ context.Context, restaurantID, menuItemID string) (domain.MenuItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	item, ok := d.items[restaurantID][menuItemID]
	if !ok {
		return domain.MenuItem{}, fmt.Errorf("%w: %s/%s", domain.ErrMenuItemNotFound, restaurantID, menuItemID)
	}
	return item, nil
}

var _ domain.RestaurantCatalog = (*Directory)(nil)
