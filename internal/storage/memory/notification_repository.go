package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

type notificationKey struct {
	eventID string
	purpose domain.NotificationPurpose
}

// notificationRepositoryInMemory хранит уведомления с уникальностью по (event_id, purpose).
type notificationRepositoryInMemory struct {
	mu    sync.RWMutex
	byKey map[notificationKey]string
	byID  map[string]domain.Notification
}

// NewNotificationRepository создаёт in-memory реализацию NotificationRepository.
func NewNotificationRepository() domain.NotificationRepository {
	return &notificationRepositoryInMemory{
		byKey: make(map[notificationKey]string),
		byID:  make(map[string]domain.Notification),
	}
}

func (r *notificationRepositoryInMemory) Get(_ context.Context, eventID string, purpose domain.NotificationPurpose) (domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[notificationKey{eventID: eventID, purpose: purpose}]
	if !ok {
		return domain.Notification{}, domain.ErrNotificationNotFound
	}
	return r.byID[id], nil
}

func (r *notificationRepositoryInMemory) Claim(_ context.Context, n domain.Notification) (domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := notificationKey{eventID: n.EventID, purpose: n.Purpose}
	if _, exists := r.byKey[key]; exists {
		return domain.Notification{}, domain.ErrNotificationExists
	}

	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Status = domain.NotificationStatusPending
	n.CreatedAt = now
	n.UpdatedAt = now

	r.byKey[key] = n.ID
	r.byID[n.ID] = n
	return n, nil
}

func (r *notificationRepositoryInMemory) Finalize(_ context.Context, id string, status domain.NotificationStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byID[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Status = status
	n.Error = errMsg
	n.UpdatedAt = time.Now().UTC()
	r.byID[id] = n
	return nil
}

func (r *notificationRepositoryInMemory) ListByEvent(_ context.Context, eventID string) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Notification, 0)
	for key, id := range r.byKey {
		if key.eventID == eventID {
			result = append(result, r.byID[id])
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Purpose < result[j].Purpose })
	return result, nil
}

func (r *notificationRepositoryInMemory) ListStalePending(_ context.Context, updatedBefore time.Time, limit int) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Notification, 0)
	for _, n := range r.byID {
		if n.Stale(updatedBefore) {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.Before(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *notificationRepositoryInMemory) Reclaim(_ context.Context, id string, updatedBefore time.Time) (domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byID[id]
	if !ok {
		return domain.Notification{}, domain.ErrNotificationNotFound
	}
	if !n.Stale(updatedBefore) {
		return domain.Notification{}, domain.ErrNotificationExists
	}
	n.UpdatedAt = time.Now().UTC()
	r.byID[id] = n
	return n, nil
}

var _ domain.NotificationRepository = (*notificationRepositoryInMemory)(nil)
