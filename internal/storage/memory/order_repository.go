package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
// Заказ, история и outbox меняются под одной блокировкой.
type orderRepositoryInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Order
	history map[string][]domain.StatusChange
	outbox  *OutboxRepository
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
// outbox может быть nil, тогда сообщения не сохраняются.
func NewOrderRepository(outbox *OutboxRepository) domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:   make(map[string]domain.Order),
		history: make(map[string][]domain.StatusChange),
		outbox:  outbox,
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order, outbox ...domain.OutboxMessage) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if err := r.enqueue(outbox); err != nil {
		return err
	}

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = order.Clone()
	r.history[order.ID] = append(r.history[order.ID], domain.StatusChange{
		OrderID:    order.ID,
		To:         order.Status,
		ActorID:    order.CustomerID,
		OccurredAt: order.CreatedAt,
	})
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Transition перезаписывает статус, проверяя версию и исходный статус (optimistic locking).
func (r *orderRepositoryInMemory) Transition(_ context.Context, order domain.Order, change domain.StatusChange, outbox ...domain.OutboxMessage) (domain.Order, error) {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version || current.Status != change.From {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	if err := r.enqueue(outbox); err != nil {
		return domain.Order{}, err
	}

	// Позиции после создания не меняются.
	order.Items = current.Items
	order.Version++
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now().UTC()
	}
	r.items[order.ID] = order.Clone()

	change.OrderID = order.ID
	if change.OccurredAt.IsZero() {
		change.OccurredAt = order.UpdatedAt
	}
	r.history[order.ID] = append(r.history[order.ID], change)

	return order.Clone(), nil
}

// History возвращает смены статусов в хронологическом порядке.
func (r *orderRepositoryInMemory) History(_ context.Context, orderID string) ([]domain.StatusChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.items[orderID]; !ok {
		return nil, domain.ErrOrderNotFound
	}
	events := r.history[orderID]
	result := make([]domain.StatusChange, len(events))
	copy(result, events)
	return result, nil
}

func (r *orderRepositoryInMemory) enqueue(msgs []domain.OutboxMessage) error {
	if r.outbox == nil {
		return nil
	}
	return r.outbox.enqueue(msgs...)
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
