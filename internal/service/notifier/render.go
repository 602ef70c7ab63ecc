package notifier

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/money"
)

// plan — уведомление, которое нужно отправить по событию.
type plan struct {
	purpose   domain.NotificationPurpose
	recipient string
}

// plansFor возвращает уведомления для типа события. Неизвестные типы не уведомляют никого.
func plansFor(ev domain.Event) []plan {
	switch ev.EventType {
	case domain.EventTypeOrderPlaced:
		return []plan{
			{purpose: domain.PurposeOrderPlacedCustomer, recipient: ev.CustomerID},
			{purpose: domain.PurposeOrderPlacedRestaurant, recipient: ev.RestaurantOwnerID},
		}
	case domain.EventTypeOrderStatusChanged:
		return []plan{{purpose: domain.PurposeOrderStatusCustomer, recipient: ev.CustomerID}}
	case domain.EventTypeRestaurantCreated:
		return []plan{{purpose: domain.PurposeRestaurantWelcome, recipient: ev.OwnerID}}
	default:
		return nil
	}
}

// render собирает тему и текст уведомления.
func render(ev domain.Event, purpose domain.NotificationPurpose) (subject, body string, err error) {
	switch purpose {
	case domain.PurposeOrderPlacedCustomer:
		if ev.OrderID == "" {
			return "", "", fmt.Errorf("%w: order.placed without order id", domain.ErrValidation)
		}
		subject = fmt.Sprintf("Your order at %s is placed", restaurantLabel(ev))
		body = fmt.Sprintf("Order %s: %s. Total %s %s. Delivery to %s.",
			ev.OrderID, itemsLine(ev.Items), money.FormatMinor(ev.TotalMinor), ev.Currency, ev.DeliveryAddress)
	case domain.PurposeOrderPlacedRestaurant:
		if ev.OrderID == "" {
			return "", "", fmt.Errorf("%w: order.placed without order id", domain.ErrValidation)
		}
		subject = fmt.Sprintf("New order %s", ev.OrderID)
		body = fmt.Sprintf("%s ordered %s. Total %s %s.",
			ev.CustomerID, itemsLine(ev.Items), money.FormatMinor(ev.TotalMinor), ev.Currency)
	case domain.PurposeOrderStatusCustomer:
		if ev.OrderID == "" || ev.NewStatus == "" {
			return "", "", fmt.Errorf("%w: order.status_changed without order id or status", domain.ErrValidation)
		}
		subject = fmt.Sprintf("Order %s is %s", ev.OrderID, statusLabel(ev.NewStatus))
		body = fmt.Sprintf("Your order at %s moved from %s to %s.",
			restaurantLabel(ev), statusLabel(ev.PreviousStatus), statusLabel(ev.NewStatus))
	case domain.PurposeRestaurantWelcome:
		subject = fmt.Sprintf("Welcome, %s", restaurantLabel(ev))
		body = fmt.Sprintf("Restaurant %s is registered and can accept orders once active.", ev.RestaurantID)
	default:
		return "", "", fmt.Errorf("%w: unknown notification purpose %q", domain.ErrValidation, purpose)
	}
	return subject, body, nil
}

func restaurantLabel(ev domain.Event) string {
	if ev.RestaurantName != "" {
		return ev.RestaurantName
	}
	return ev.RestaurantID
}

func itemsLine(items []domain.EventItem) string {
	if len(items) == 0 {
		return "no items"
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%d x %s (%s)", item.Quantity, item.Name, money.FormatMinor(item.SubtotalMinor)))
	}
	return strings.Join(parts, ", ")
}

func statusLabel(status domain.OrderStatus) string {
	if status == "" {
		return "new"
	}
	return strings.ToLower(string(status))
}
