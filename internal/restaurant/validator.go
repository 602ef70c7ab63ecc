package restaurant

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/resilience"
)

const defaultLookupConcurrency = 4

// Line — запрошенная позиция: ссылка на меню и количество.
type Line struct {
	MenuItemID string
	Quantity   int32
}

// Validated — результат проверки: снимок ресторана и позиции с актуальными ценами.
type Validated struct {
	Restaurant domain.Restaurant
	Items      []domain.OrderItem
	TotalMinor int64
}

// Validator проверяет заказ по актуальным данным каталога.
// Каждый вызов каталога идёт через Shield.
type Validator struct {
	catalog     domain.RestaurantCatalog
	shield      *resilience.Shield
	concurrency int
	logger      *log.Entry
}

// Option настраивает Validator.
type Option func(*Validator)

// WithConcurrency ограничивает число параллельных запросов позиций меню.
func WithConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator создаёт валидатор поверх каталога и защиты.
func NewValidator(catalog domain.RestaurantCatalog, shield *resilience.Shield, opts ...Option) *Validator {
	v := &Validator{
		catalog:     catalog,
		shield:      shield,
		concurrency: defaultLookupConcurrency,
		logger:      log.WithField("component", "restaurant-validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Restaurant возвращает снимок ресторана через Shield.
func (v *Validator) Restaurant(ctx context.Context, restaurantID string) (domain.Restaurant, error) {
	return resilience.Call(ctx, v.shield, func(ctx context.Context) (domain.Restaurant, error) {
		r, err := v.catalog.GetRestaurant(ctx, restaurantID)
		return r, markBusiness(err)
	})
}

// Validate проверяет ресторан и позиции. Цена фиксируется по каталогу на момент проверки.
func (v *Validator) Validate(ctx context.Context, restaurantID string, lines []Line) (Validated, error) {
	if restaurantID == "" {
		return Validated{}, domain.ErrRestaurantRequired
	}
	if len(lines) == 0 {
		return Validated{}, domain.ErrItemsRequired
	}
	for _, line := range lines {
		if line.MenuItemID == "" {
			return Validated{}, fmt.Errorf("%w: menu item id is required", domain.ErrValidation)
		}
		if line.Quantity < 1 {
			return Validated{}, fmt.Errorf("%w: menu item %s", domain.ErrItemQtyInvalid, line.MenuItemID)
		}
	}

	r, err := v.Restaurant(ctx, restaurantID)
	if err != nil {
		return Validated{}, err
	}
	if !r.Active {
		return Validated{}, fmt.Errorf("%w: %s", domain.ErrRestaurantInactive, restaurantID)
	}

	menu, err := v.lookupItems(ctx, restaurantID, lines)
	if err != nil {
		return Validated{}, err
	}

	result := Validated{Restaurant: r, Items: make([]domain.OrderItem, 0, len(lines))}
	for _, line := range lines {
		item := menu[line.MenuItemID]
		if item.RestaurantID != "" && item.RestaurantID != restaurantID {
			return Validated{}, fmt.Errorf("%w: %s does not belong to %s", domain.ErrMenuItemNotFound, item.ID, restaurantID)
		}
		if !item.Available {
			return Validated{}, fmt.Errorf("%w: %s", domain.ErrItemUnavailable, line.MenuItemID)
		}
		orderItem := domain.NewOrderItem(line.MenuItemID, item.Name, item.PriceMinor, line.Quantity)
		result.Items = append(result.Items, orderItem)
		result.TotalMinor += orderItem.SubtotalMinor
	}

	v.logger.WithFields(log.Fields{
		"restaurant_id": restaurantID,
		"items":         len(result.Items),
		"total_minor":   result.TotalMinor,
	}).Debug("order validated against catalog")

	return result, nil
}

func (v *Validator) lookupItems(ctx context.Context, restaurantID string, lines []Line) (map[string]domain.MenuItem, error) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.MenuItemID]; ok {
			continue
		}
		seen[line.MenuItemID] = struct{}{}
		ids = append(ids, line.MenuItemID)
	}

	items := make([]domain.MenuItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			item, err := resilience.Call(gctx, v.shield, func(ctx context.Context) (domain.MenuItem, error) {
				item, err := v.catalog.GetMenuItem(ctx, restaurantID, id)
				return item, markBusiness(err)
			})
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	menu := make(map[string]domain.MenuItem, len(ids))
	for i, id := range ids {
		menu[id] = items[i]
	}
	return menu, nil
}

// markBusiness помечает отказ каталога по существу (не найдено, неверный запрос)
// как окончательный, чтобы Shield его не повторял и не считал отказом зависимости.
func markBusiness(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
		return resilience.Permanent(err)
	}
	return err
}
