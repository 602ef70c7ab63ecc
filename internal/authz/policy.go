// Package authz решает, может ли актор читать заказ или менять его статус.
package authz

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

// OwnerLookup возвращает данные ресторана, в том числе владельца.
type OwnerLookup interface {
	Restaurant(ctx context.Context, restaurantID string) (domain.Restaurant, error)
}

// Policy — правила доступа к заказам.
//
//   - администратор может всё;
//   - владелец ресторана может менять статус заказов своего ресторана;
//   - клиент может только отменить свой заказ, пока тот в PENDING;
//   - анонимный актор не может ничего.
type Policy struct {
	owners OwnerLookup
}

// NewPolicy создаёт политику; владелец ресторана определяется через owners.
func NewPolicy(owners OwnerLookup) *Policy {
	return &Policy{owners: owners}
}

// CanView проверяет право на чтение заказа.
func (p *Policy) CanView(ctx context.Context, actor domain.Actor, order domain.Order) error {
	if actor.IsAnonymous() {
		return fmt.Errorf("%w: identity required", domain.ErrUnauthorized)
	}
	if actor.IsAdmin() || actor.ID == order.CustomerID {
		return nil
	}
	owns, err := p.ownsRestaurant(ctx, actor, order.RestaurantID)
	if err != nil {
		return err
	}
	if owns {
		return nil
	}
	return fmt.Errorf("%w: order %s is not visible to %s", domain.ErrUnauthorized, order.ID, actor.ID)
}

// CanTransition проверяет право перевести заказ в статус to.
// Законность самого перехода проверяет вызывающий.
func (p *Policy) CanTransition(ctx context.Context, actor domain.Actor, order domain.Order, to domain.OrderStatus) error {
	if actor.IsAnonymous() {
		return fmt.Errorf("%w: identity required", domain.ErrUnauthorized)
	}
	if actor.IsAdmin() {
		return nil
	}

	owns, err := p.ownsRestaurant(ctx, actor, order.RestaurantID)
	if err != nil {
		return err
	}
	if owns {
		return nil
	}

	if actor.ID == order.CustomerID && to == domain.OrderStatusCancelled {
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: customer may cancel only a pending order, current status %s", domain.ErrStateConflict, order.Status)
		}
		return nil
	}

	return fmt.Errorf("%w: %s may not move order %s to %s", domain.ErrUnauthorized, actor.ID, order.ID, to)
}

func (p *Policy) ownsRestaurant(ctx context.Context, actor domain.Actor, restaurantID string) (bool, error) {
	if !actor.HasRole(domain.RoleRestaurantOwner) || p.owners == nil {
		return false, nil
	}
	r, err := p.owners.Restaurant(ctx, restaurantID)
	if err != nil {
		return false, fmt.Errorf("resolve owner of restaurant %s: %w", restaurantID, err)
	}
	return r.OwnerID == actor.ID, nil
}
