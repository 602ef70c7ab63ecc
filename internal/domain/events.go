package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип доменного события.
type EventType string

const (
	EventTypeOrderPlaced        EventType = "order.placed"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeRestaurantCreated  EventType = "restaurant.created"
)

const (
	AggregateOrder      = "order"
	AggregateRestaurant = "restaurant"
)

// EventItem — позиция заказа в составе события.
type EventItem struct {
	MenuItemID     string `json:"menuItemId"`
	Name           string `json:"name"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	Quantity       int32  `json:"quantity"`
	SubtotalMinor  int64  `json:"subtotalMinor"`
}

// Event — плоский конверт доменного события. Поля полезной нагрузки
// заполняются в зависимости от EventType. Событие неизменяемо после создания,
// EventID служит ключом дедупликации у потребителей.
type Event struct {
	EventID      string    `json:"eventId"`
	EventType    EventType `json:"eventType"`
	Timestamp    time.Time `json:"timestamp"`
	OrderID      string    `json:"orderId,omitempty"`
	CustomerID   string    `json:"customerId,omitempty"`
	RestaurantID string    `json:"restaurantId"`

	// order.placed
	RestaurantName    string      `json:"restaurantName,omitempty"`
	RestaurantOwnerID string      `json:"restaurantOwnerId,omitempty"`
	Items             []EventItem `json:"items,omitempty"`
	TotalMinor        int64       `json:"totalMinor,omitempty"`
	Currency          string      `json:"currency,omitempty"`
	DeliveryAddress   string      `json:"deliveryAddress,omitempty"`

	// order.status_changed
	PreviousStatus OrderStatus `json:"previousStatus,omitempty"`
	NewStatus      OrderStatus `json:"newStatus,omitempty"`
	ChangedBy      string      `json:"changedBy,omitempty"`

	// restaurant.created
	OwnerID string `json:"ownerId,omitempty"`
}

func newEvent(eventType EventType, now time.Time) Event {
	if now.IsZero() {
		now = time.Now()
	}
	return Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: now.UTC(),
	}
}

// NewOrderPlacedEvent собирает событие о новом заказе.
func NewOrderPlacedEvent(order Order, ownerID string, now time.Time) Event {
	ev := newEvent(EventTypeOrderPlaced, now)
	ev.OrderID = order.ID
	ev.CustomerID = order.CustomerID
	ev.RestaurantID = order.RestaurantID
	ev.RestaurantName = order.RestaurantName
	ev.RestaurantOwnerID = ownerID
	ev.TotalMinor = order.TotalMinor
	ev.Currency = order.Currency
	ev.DeliveryAddress = order.DeliveryAddress
	ev.Items = make([]EventItem, 0, len(order.Items))
	for _, item := range order.Items {
		ev.Items = append(ev.Items, EventItem{
			MenuItemID:     item.MenuItemID,
			Name:           item.Name,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Quantity,
			SubtotalMinor:  item.SubtotalMinor,
		})
	}
	return ev
}

// NewOrderStatusChangedEvent собирает событие о смене статуса.
func NewOrderStatusChangedEvent(order Order, previous OrderStatus, changedBy string, now time.Time) Event {
	ev := newEvent(EventTypeOrderStatusChanged, now)
	ev.OrderID = order.ID
	ev.CustomerID = order.CustomerID
	ev.RestaurantID = order.RestaurantID
	ev.RestaurantName = order.RestaurantName
	ev.PreviousStatus = previous
	ev.NewStatus = order.Status
	ev.ChangedBy = changedBy
	return ev
}

// NewRestaurantCreatedEvent собирает событие о новом ресторане.
func NewRestaurantCreatedEvent(restaurant Restaurant, now time.Time) Event {
	ev := newEvent(EventTypeRestaurantCreated, now)
	ev.RestaurantID = restaurant.ID
	ev.RestaurantName = restaurant.Name
	ev.OwnerID = restaurant.OwnerID
	return ev
}

// AggregateType возвращает тип агрегата, к которому относится событие.
func (e Event) AggregateType() string {
	if e.EventType == EventTypeRestaurantCreated {
		return AggregateRestaurant
	}
	return AggregateOrder
}

// OutboxMessage упаковывает событие для transactional outbox.
// Ключ партиционирования — ресторан, чтобы события одного ресторана шли по порядку.
func (e Event) OutboxMessage() (OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	aggregateID := e.OrderID
	if aggregateID == "" {
		aggregateID = e.RestaurantID
	}
	return OutboxMessage{
		ID:            e.EventID,
		AggregateType: e.AggregateType(),
		AggregateID:   aggregateID,
		PartitionKey:  e.RestaurantID,
		EventType:     string(e.EventType),
		Payload:       payload,
	}, nil
}

// DecodeEvent разбирает конверт события.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", ErrValidation, err)
	}
	if ev.EventID == "" || ev.EventType == "" {
		return Event{}, fmt.Errorf("%w: event id and type are required", ErrValidation)
	}
	return ev, nil
}
