package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

func TestNewOrderPlacedEvent_EnvelopeShape(t *testing.T) {
	order := makeOrder()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := domain.NewOrderPlacedEvent(order, "owner-1", now)
	require.NotEmpty(t, ev.EventID)
	require.Equal(t, domain.EventTypeOrderPlaced, ev.EventType)
	require.Equal(t, now, ev.Timestamp)
	require.Len(t, ev.Items, 2)
	require.Equal(t, int64(1300), ev.TotalMinor)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	for _, key := range []string{"eventId", "eventType", "timestamp", "orderId", "customerId", "restaurantId", "restaurantOwnerId", "items", "totalMinor"} {
		require.Contains(t, flat, key)
	}
	require.NotContains(t, flat, "previousStatus")
}

func TestNewEvents_UniqueIDs(t *testing.T) {
	order := makeOrder()
	first := domain.NewOrderStatusChangedEvent(order, domain.OrderStatusPending, "owner-1", time.Time{})
	second := domain.NewOrderStatusChangedEvent(order, domain.OrderStatusPending, "owner-1", time.Time{})
	require.NotEqual(t, first.EventID, second.EventID)
	require.False(t, first.Timestamp.IsZero())
}

func TestEventOutboxMessage(t *testing.T) {
	order := makeOrder()
	order.Status = domain.OrderStatusConfirmed
	ev := domain.NewOrderStatusChangedEvent(order, domain.OrderStatusPending, "owner-1", time.Now())

	msg, err := ev.OutboxMessage()
	require.NoError(t, err)
	require.Equal(t, ev.EventID, msg.ID)
	require.Equal(t, domain.AggregateOrder, msg.AggregateType)
	require.Equal(t, order.ID, msg.AggregateID)
	require.Equal(t, order.RestaurantID, msg.PartitionKey)
	require.Equal(t, string(domain.EventTypeOrderStatusChanged), msg.EventType)

	decoded, err := domain.DecodeEvent(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, decoded.PreviousStatus)
	require.Equal(t, domain.OrderStatusConfirmed, decoded.NewStatus)
}

func TestRestaurantCreatedEvent_OutboxAggregate(t *testing.T) {
	ev := domain.NewRestaurantCreatedEvent(domain.Restaurant{ID: "r-1", Name: "Pho Bar", OwnerID: "owner-1"}, time.Now())
	msg, err := ev.OutboxMessage()
	require.NoError(t, err)
	require.Equal(t, domain.AggregateRestaurant, msg.AggregateType)
	require.Equal(t, "r-1", msg.AggregateID)
	require.Equal(t, "r-1", msg.PartitionKey)
}

func TestDecodeEvent_Invalid(t *testing.T) {
	_, err := domain.DecodeEvent([]byte("{not json"))
	require.True(t, errors.Is(err, domain.ErrValidation))

	_, err = domain.DecodeEvent([]byte(`{"eventType":"order.placed"}`))
	require.True(t, errors.Is(err, domain.ErrValidation))
}
