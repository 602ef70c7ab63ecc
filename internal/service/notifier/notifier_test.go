package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/resilience"
	"github.com/vladislavdragonenkov/foodorders/internal/storage/memory"
)

var placedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func placedEvent() domain.Event {
	order := domain.Order{
		ID:              "order-1",
		CustomerID:      "customer-1",
		RestaurantID:    "pho-bar",
		RestaurantName:  "Pho Bar",
		Status:          domain.OrderStatusPending,
		DeliveryAddress: "221B Baker Street",
		Currency:        "USD",
		Items: []domain.OrderItem{
			domain.NewOrderItem("pho", "Pho", 500, 2),
			domain.NewOrderItem("tea", "Tea", 300, 1),
		},
		TotalMinor: 1300,
	}
	return domain.NewOrderPlacedEvent(order, "owner-1", placedAt)
}

func TestHandle_OrderPlacedNotifiesCustomerAndRestaurant(t *testing.T) {
	repo := memory.NewNotificationRepository()
	channel := &recordingChannel{}
	n := New(repo, channel)
	ev := placedEvent()

	require.NoError(t, n.Handle(context.Background(), ev))

	records, err := repo.ListByEvent(context.Background(), ev.EventID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		require.Equal(t, domain.NotificationStatusSent, record.Status)
	}

	sent := channel.sent()
	require.Len(t, sent, 2)
	require.Equal(t, "customer-1", sent[0].Recipient)
	require.Contains(t, sent[0].Body, "Total 13.00 USD")
	require.Contains(t, sent[0].Body, "2 x Pho (10.00)")
	require.Equal(t, "owner-1", sent[1].Recipient)
	require.Equal(t, "New order order-1", sent[1].Subject)
}

func TestHandle_ReplayIsIdempotent(t *testing.T) {
	repo := memory.NewNotificationRepository()
	channel := &recordingChannel{}
	n := New(repo, channel)
	ev := placedEvent()

	require.NoError(t, n.Handle(context.Background(), ev))
	require.NoError(t, n.Handle(context.Background(), ev))

	records, err := repo.ListByEvent(context.Background(), ev.EventID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, channel.sent(), 2)
}

func TestHandle_ConcurrentReplaySendsOnce(t *testing.T) {
	repo := memory.NewNotificationRepository()
	channel := &recordingChannel{}
	n := New(repo, channel)
	ev := domain.NewOrderStatusChangedEvent(domain.Order{
		ID:           "order-1",
		CustomerID:   "customer-1",
		RestaurantID: "pho-bar",
		Status:       domain.OrderStatusConfirmed,
	}, domain.OrderStatusPending, "owner-1", placedAt)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, n.Handle(context.Background(), ev))
		}()
	}
	wg.Wait()

	records, err := repo.ListByEvent(context.Background(), ev.EventID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, channel.sent(), 1)
	require.Equal(t, "Order order-1 is confirmed", channel.sent()[0].Subject)
}

func TestHandle_DeliveryFailureIsRecorded(t *testing.T) {
	repo := memory.NewNotificationRepository()
	channel := &recordingChannel{err: errors.New("smtp: 451 try later")}
	n := New(repo, channel)
	ev := domain.NewRestaurantCreatedEvent(domain.Restaurant{ID: "pho-bar", Name: "Pho Bar", OwnerID: "owner-1"}, placedAt)

	require.NoError(t, n.Handle(context.Background(), ev))

	record, err := repo.Get(context.Background(), ev.EventID, domain.PurposeRestaurantWelcome)
	require.NoError(t, err)
	require.Equal(t, domain.NotificationStatusFailed, record.Status)
	require.Equal(t, "smtp: 451 try later", record.Error)

	require.NoError(t, n.Handle(context.Background(), ev))
	require.Len(t, channel.sent(), 1)
}

func TestHandle_StorageErrorsAreNotAcked(t *testing.T) {
	ev := placedEvent()

	t.Run("lookup", func(t *testing.T) {
		channel := &recordingChannel{}
		repo := &faultyRepo{NotificationRepository: memory.NewNotificationRepository(), getErr: errors.New("db down")}
		n := New(repo, channel)

		require.Error(t, n.Handle(context.Background(), ev))
		require.Empty(t, channel.sent())
	})

	t.Run("finalize", func(t *testing.T) {
		channel := &recordingChannel{}
		repo := &faultyRepo{NotificationRepository: memory.NewNotificationRepository(), finalizeErr: errors.New("db down")}
		n := New(repo, channel)

		require.Error(t, n.Handle(context.Background(), ev))
		require.Len(t, channel.sent(), 1)

		// Повтор не отправляет уже заявленное уведомление второй раз.
		repo.finalizeErr = nil
		require.NoError(t, n.Handle(context.Background(), ev))
		require.Len(t, channel.sent(), 2)
		require.Equal(t, "customer-1", channel.sent()[0].Recipient)
		require.Equal(t, "owner-1", channel.sent()[1].Recipient)
	})
}

func TestHandle_StalePendingIsResentAfterLease(t *testing.T) {
	ev := placedEvent()
	channel := &recordingChannel{}
	repo := &faultyRepo{NotificationRepository: memory.NewNotificationRepository(), finalizeErr: errors.New("db down")}
	n := New(repo, channel, WithPendingLease(time.Minute))

	require.Error(t, n.Handle(context.Background(), ev))
	require.Len(t, channel.sent(), 1)
	repo.finalizeErr = nil

	// В пределах lease запись принадлежит прежнему отправителю.
	require.NoError(t, n.Handle(context.Background(), ev))
	require.Len(t, channel.sent(), 2)

	n.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	require.NoError(t, n.Handle(context.Background(), ev))
	sent := channel.sent()
	require.Len(t, sent, 3)
	require.Equal(t, "customer-1", sent[2].Recipient)
	require.Contains(t, sent[2].Body, "Total 13.00 USD")

	record, err := repo.Get(context.Background(), ev.EventID, domain.PurposeOrderPlacedCustomer)
	require.NoError(t, err)
	require.Equal(t, domain.NotificationStatusSent, record.Status)

	require.NoError(t, n.Handle(context.Background(), ev))
	require.Len(t, channel.sent(), 3)
}

func TestRecoverStale(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	channel := &recordingChannel{}
	n := New(repo, channel, WithPendingLease(time.Minute))

	abandoned, err := repo.Claim(ctx, domain.Notification{
		EventID:   "ev-crashed",
		Purpose:   domain.PurposeRestaurantWelcome,
		Recipient: "owner-1",
		Address:   "owner-1",
		Subject:   "Welcome, Pho Bar",
		Body:      "Your restaurant is live.",
	})
	require.NoError(t, err)
	finished, err := repo.Claim(ctx, domain.Notification{EventID: "ev-ok", Purpose: domain.PurposeRestaurantWelcome, Recipient: "owner-2"})
	require.NoError(t, err)
	require.NoError(t, repo.Finalize(ctx, finished.ID, domain.NotificationStatusSent, ""))

	recovered, err := n.RecoverStale(ctx)
	require.NoError(t, err)
	require.Zero(t, recovered, "pending within lease is left alone")

	n.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	recovered, err = n.RecoverStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	sent := channel.sent()
	require.Len(t, sent, 1)
	require.Equal(t, "Welcome, Pho Bar", sent[0].Subject)
	require.Equal(t, "owner-1", sent[0].Address)

	record, err := repo.Get(ctx, abandoned.EventID, abandoned.Purpose)
	require.NoError(t, err)
	require.Equal(t, domain.NotificationStatusSent, record.Status)

	recovered, err = n.RecoverStale(ctx)
	require.NoError(t, err)
	require.Zero(t, recovered)
}

func TestRunRecovery_StopsOnContextCancel(t *testing.T) {
	repo := memory.NewNotificationRepository()
	n := New(repo, &recordingChannel{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.RunRecovery(ctx, 5*time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recovery loop did not stop on context cancel")
	}
}

func TestHandle_RenderErrorWritesNothing(t *testing.T) {
	repo := memory.NewNotificationRepository()
	channel := &recordingChannel{}
	n := New(repo, channel)

	ev := domain.Event{EventID: "ev-1", EventType: domain.EventTypeOrderStatusChanged, CustomerID: "customer-1"}
	err := n.Handle(context.Background(), ev)
	require.ErrorIs(t, err, domain.ErrValidation)

	records, listErr := repo.ListByEvent(context.Background(), "ev-1")
	require.NoError(t, listErr)
	require.Empty(t, records)
	require.Empty(t, channel.sent())
}

func TestHandle_SkipsMissingRecipientAndUnknownTypes(t *testing.T) {
	repo := memory.NewNotificationRepository()
	channel := &recordingChannel{}
	n := New(repo, channel)

	ev := placedEvent()
	ev.RestaurantOwnerID = ""
	require.NoError(t, n.Handle(context.Background(), ev))
	require.Len(t, channel.sent(), 1)

	require.NoError(t, n.Handle(context.Background(), domain.Event{EventID: "ev-2", EventType: "order.refunded"}))
	require.Len(t, channel.sent(), 1)
}

func TestHandle_DedupCache(t *testing.T) {
	ev := placedEvent()

	t.Run("hit skips storage", func(t *testing.T) {
		cache := newMapCache()
		cache.keys[DedupKey(ev.EventID, domain.PurposeOrderPlacedCustomer)] = true
		cache.keys[DedupKey(ev.EventID, domain.PurposeOrderPlacedRestaurant)] = true
		repo := &faultyRepo{NotificationRepository: memory.NewNotificationRepository(), getErr: errors.New("must not be called")}
		channel := &recordingChannel{}

		require.NoError(t, New(repo, channel, WithDedupCache(cache)).Handle(context.Background(), ev))
		require.Empty(t, channel.sent())
	})

	t.Run("remembered after send", func(t *testing.T) {
		cache := newMapCache()
		channel := &recordingChannel{}

		require.NoError(t, New(memory.NewNotificationRepository(), channel, WithDedupCache(cache)).Handle(context.Background(), ev))
		require.True(t, cache.keys[DedupKey(ev.EventID, domain.PurposeOrderPlacedCustomer)])
		require.True(t, cache.keys[DedupKey(ev.EventID, domain.PurposeOrderPlacedRestaurant)])
	})

	t.Run("cache failure falls back to storage", func(t *testing.T) {
		cache := newMapCache()
		cache.err = errors.New("redis down")
		repo := memory.NewNotificationRepository()
		channel := &recordingChannel{}
		n := New(repo, channel, WithDedupCache(cache))

		require.NoError(t, n.Handle(context.Background(), ev))
		require.NoError(t, n.Handle(context.Background(), ev))
		require.Len(t, channel.sent(), 2)
	})
}

func TestMessageHandler(t *testing.T) {
	repo := memory.NewNotificationRepository()
	channel := &recordingChannel{}
	handler := New(repo, channel).MessageHandler()

	err := handler(context.Background(), &sarama.ConsumerMessage{Topic: "foodorders.order.events", Value: []byte("{not json")})
	require.Error(t, err)
	require.True(t, resilience.IsPermanent(err))

	payload, err := json.Marshal(placedEvent())
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), &sarama.ConsumerMessage{Topic: "foodorders.order.events", Value: payload}))
	require.Len(t, channel.sent(), 2)
}

type recordingChannel struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func (c *recordingChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return c.err
}

func (c *recordingChannel) sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

type faultyRepo struct {
	domain.NotificationRepository
	getErr      error
	finalizeErr error
}

func (r *faultyRepo) Get(ctx context.Context, eventID string, purpose domain.NotificationPurpose) (domain.Notification, error) {
	if r.getErr != nil {
		return domain.Notification{}, r.getErr
	}
	return r.NotificationRepository.Get(ctx, eventID, purpose)
}

func (r *faultyRepo) Finalize(ctx context.Context, id string, status domain.NotificationStatus, errMsg string) error {
	if r.finalizeErr != nil {
		return r.finalizeErr
	}
	return r.NotificationRepository.Finalize(ctx, id, status, errMsg)
}

type mapCache struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMapCache() *mapCache {
	return &mapCache{keys: make(map[string]bool)}
}

func (c *mapCache) Seen(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.keys[key], nil
}

func (c *mapCache) Remember(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.keys[key] = true
	return nil
}
