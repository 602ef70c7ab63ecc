package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
// Запись заказа, истории статусов и outbox-сообщений выполняется атомарно.
type OrderRepository interface {
	// Create сохраняет новый заказ с позициями, первую запись истории и сообщения outbox.
	// Возвращает ErrOrderAlreadyExists, если ID занят.
	Create(ctx context.Context, order Order, outbox ...OutboxMessage) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми; limit <= 0 — без ограничения.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Transition сохраняет новый статус, если в хранилище та же версия и исходный статус change.From.
	// Иначе ErrOrderVersionConflict. Возвращает сохранённый заказ с увеличенной версией.
	Transition(ctx context.Context, order Order, change StatusChange, outbox ...OutboxMessage) (Order, error)
	// History возвращает историю статусов в хронологическом порядке.
	History(ctx context.Context, orderID string) ([]StatusChange, error)
}
