package domain

import (
	"context"
	"time"
)

// RestaurantCatalog описывает внешний сервис данных ресторанов и меню.
type RestaurantCatalog interface {
	// GetRestaurant возвращает актуальный снимок ресторана.
	GetRestaurant(ctx context.Context, restaurantID string) (Restaurant, error)
	// GetMenuItem возвращает позицию меню с текущей ценой и доступностью.
	GetMenuItem(ctx context.Context, restaurantID, menuItemID string) (MenuItem, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository отдаёт накопленные события воркеру публикации.
// Запись в outbox выполняет OrderRepository в одной транзакции с заказом.
type OutboxRepository interface {
	// PullPending возвращает pending-сообщения в порядке создания.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxLocker выдаёт право публиковать outbox одной реплике за раз.
// Пока право удерживается, другие реплики пропускают свой цикл, поэтому
// события одного ресторана уходят в брокер в порядке записи.
type OutboxLocker interface {
	// TryLockOutbox возвращает ok = false без ожидания, если право занято.
	TryLockOutbox(ctx context.Context) (unlock func(), ok bool, err error)
}

// NotificationRepository хранит записи уведомлений с уникальностью по (EventID, Purpose).
type NotificationRepository interface {
	// Get возвращает запись или ErrNotificationNotFound.
	Get(ctx context.Context, eventID string, purpose NotificationPurpose) (Notification, error)
	// Claim вставляет запись в статусе pending; при конфликте ключа возвращает ErrNotificationExists.
	Claim(ctx context.Context, n Notification) (Notification, error)
	// Finalize переводит запись в sent или failed.
	Finalize(ctx context.Context, id string, status NotificationStatus, errMsg string) error
	// ListByEvent возвращает все записи по событию.
	ListByEvent(ctx context.Context, eventID string) ([]Notification, error)
	// ListStalePending возвращает до limit записей в pending, не обновлявшихся после updatedBefore.
	ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]Notification, error)
	// Reclaim продлевает зависшую pending-запись и возвращает её новому владельцу.
	// Если запись уже финализирована или обновлялась после updatedBefore, возвращает ErrNotificationExists.
	Reclaim(ctx context.Context, id string, updatedBefore time.Time) (Notification, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release удаляет ключ в статусе processing, чтобы клиент мог повторить запрос.
	// Завершённые ключи не трогает.
	Release(ctx context.Context, key string) error
	// ReleaseStale освобождает не больше limit ключей, застрявших в processing
	// с момента startedBefore или раньше (обработчик упал, не сохранив ответ).
	ReleaseStale(ctx context.Context, startedBefore time.Time, limit int) (int, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	PartitionKey  string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
