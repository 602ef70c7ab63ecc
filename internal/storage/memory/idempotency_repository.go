package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository хранит ключи Idempotency-Key запросов POST /orders в памяти процесса.
// Ключ с истёкшим TTL считается свободным ещё до того, как его удалит CleanupWorker.
type IdempotencyRepository struct {
	mu   sync.Mutex
	keys map[string]*domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		keys: make(map[string]*domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if current, ok := r.keys[key]; ok && !current.Expired(now) {
		if current.RequestHash != requestHash {
			return snapshot(current), domain.ErrIdempotencyHashMismatch
		}
		return snapshot(current), domain.ErrIdempotencyKeyAlreadyExists
	}

	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record := &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.keys[key] = record
	return snapshot(record), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.keys[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return snapshot(record), nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if record, ok := r.keys[key]; ok && record.Status == domain.IdempotencyStatusProcessing {
		delete(r.keys, key)
	}
	return nil
}

func (r *IdempotencyRepository) ReleaseStale(_ context.Context, startedBefore time.Time, limit int) (int, error) {
	return r.evict(limit, func(record *domain.IdempotencyRecord) bool {
		return record.Stuck(startedBefore)
	}), nil
}

func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}
	return r.evict(limit, func(record *domain.IdempotencyRecord) bool {
		return record.Expired(before)
	}), nil
}

func (r *IdempotencyRepository) complete(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.keys[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.now()
	return nil
}

// evict удаляет до limit подходящих записей, начиная с самых старых.
func (r *IdempotencyRepository) evict(limit int, match func(*domain.IdempotencyRecord) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	victims := make([]*domain.IdempotencyRecord, 0)
	for _, record := range r.keys {
		if match(record) {
			victims = append(victims, record)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		if victims[i].CreatedAt.Equal(victims[j].CreatedAt) {
			return victims[i].Key < victims[j].Key
		}
		return victims[i].CreatedAt.Before(victims[j].CreatedAt)
	})
	if limit > 0 && len(victims) > limit {
		victims = victims[:limit]
	}
	for _, record := range victims {
		delete(r.keys, record.Key)
	}
	return len(victims)
}

func snapshot(record *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *record
	out.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return out
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
