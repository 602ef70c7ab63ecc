package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят и ждёт подтверждения рестораном.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed — ресторан подтвердил заказ.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusPreparing — заказ готовится.
	OrderStatusPreparing OrderStatus = "PREPARING"
	// OrderStatusReady — заказ готов к выдаче курьеру.
	OrderStatusReady OrderStatus = "READY"
	// OrderStatusDelivered — заказ доставлен, терминальный статус.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён, терминальный статус.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusDelivered, OrderStatusCancelled},
}

// ParseOrderStatus нормализует строку в статус; регистр не важен.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrUnknownStatus
	}
	return status, nil
}

// Valid проверяет, что статус входит в жизненный цикл.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusReady, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition проверяет переход по таблице жизненного цикла.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem представляет одну позицию заказа. Название и цена фиксируются на момент создания.
type OrderItem struct {
	MenuItemID     string
	Name           string
	UnitPriceMinor int64
	Quantity       int32
	SubtotalMinor  int64
}

// MaxItemQuantity — верхняя граница количества в одной позиции заказа.
const MaxItemQuantity = 100

// NewOrderItem считает подытог по цене и количеству.
func NewOrderItem(menuItemID, name string, unitPriceMinor int64, quantity int32) OrderItem {
	return OrderItem{
		MenuItemID:     menuItemID,
		Name:           name,
		UnitPriceMinor: unitPriceMinor,
		Quantity:       quantity,
		SubtotalMinor:  unitPriceMinor * int64(quantity),
	}
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              string
	CustomerID      string
	RestaurantID    string
	RestaurantName  string
	Items           []OrderItem
	Status          OrderStatus
	DeliveryAddress string
	Currency        string
	TotalMinor      int64
	Version         int64
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	DeliveredAt     *time.Time
	UpdatedAt       time.Time
}

// ItemsTotal возвращает сумму подытогов позиций.
func (o *Order) ItemsTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.SubtotalMinor
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.RestaurantID == "" {
		errs = append(errs, ErrRestaurantRequired)
	}
	if strings.TrimSpace(o.DeliveryAddress) == "" {
		errs = append(errs, ErrDeliveryAddressRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrUnknownStatus)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Quantity > MaxItemQuantity {
			errs = append(errs, ErrItemQtyTooLarge)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.SubtotalMinor != item.UnitPriceMinor*int64(item.Quantity) {
			errs = append(errs, ErrTotalMismatch)
		}
		calc += item.SubtotalMinor
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Clone возвращает копию заказа без общих срезов и указателей.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	if o.ConfirmedAt != nil {
		t := *o.ConfirmedAt
		dst.ConfirmedAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		dst.DeliveredAt = &t
	}
	return dst
}

// StatusChange — запись истории смены статусов заказа.
type StatusChange struct {
	OrderID    string
	From       OrderStatus
	To         OrderStatus
	ActorID    string
	OccurredAt time.Time
}
