package domain

import "time"

// NotificationStatus — состояние доставки уведомления.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// NotificationPurpose — тип уведомления; вместе с EventID образует ключ дедупликации.
type NotificationPurpose string

const (
	PurposeOrderPlacedCustomer   NotificationPurpose = "order_placed_customer"
	PurposeOrderPlacedRestaurant NotificationPurpose = "order_placed_restaurant"
	PurposeOrderStatusCustomer   NotificationPurpose = "order_status_customer"
	PurposeRestaurantWelcome     NotificationPurpose = "restaurant_welcome"
)

// Notification хранит факт отправки уведомления по событию.
type Notification struct {
	ID        string
	EventID   string
	Purpose   NotificationPurpose
	Recipient string
	Address   string
	Subject   string
	Body      string
	Status    NotificationStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stale сообщает, что запись застряла в pending: отправитель не финализировал её
// и не обновлял после updatedBefore.
func (n Notification) Stale(updatedBefore time.Time) bool {
	return n.Status == NotificationStatusPending && !n.UpdatedAt.After(updatedBefore)
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s NotificationStatus) Valid() bool {
	switch s {
	case NotificationStatusPending, NotificationStatusSent, NotificationStatusFailed:
		return true
	default:
		return false
	}
}
