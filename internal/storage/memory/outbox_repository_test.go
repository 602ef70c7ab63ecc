package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

func TestOutboxRepository_EnqueueKeepsOrder(t *testing.T) {
	repo := NewOutboxRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.enqueue(domain.OutboxMessage{
			ID:            fmt.Sprintf("evt-%d", i),
			AggregateType: domain.AggregateOrder,
			EventType:     string(domain.EventTypeOrderStatusChanged),
		}))
	}

	pending, err := repo.PullPending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, msg := range pending {
		require.Equal(t, fmt.Sprintf("evt-%d", i), msg.ID)
		require.False(t, msg.CreatedAt.IsZero())
	}
}

func TestOutboxRepository_EnqueueIsAtomic(t *testing.T) {
	repo := NewOutboxRepository()

	require.NoError(t, repo.enqueue(domain.OutboxMessage{ID: "evt-1"}))
	require.Error(t, repo.enqueue(domain.OutboxMessage{ID: "evt-2"}, domain.OutboxMessage{ID: "evt-1"}))
	require.Len(t, repo.Pending(), 1)
	require.Empty(t, repo.Status("evt-2"))
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	repo := NewOutboxRepository()
	ctx := context.Background()

	require.NoError(t, repo.enqueue(domain.OutboxMessage{}, domain.OutboxMessage{ID: "evt-b"}))
	pending := repo.Pending()
	require.Len(t, pending, 2)
	require.NotEmpty(t, pending[0].ID, "expected generated id")

	require.NoError(t, repo.MarkSent(ctx, pending[0].ID))
	require.NoError(t, repo.MarkFailed(ctx, "evt-b"))
	require.Equal(t, outboxStatusSent, repo.Status(pending[0].ID))
	require.Equal(t, outboxStatusFailed, repo.Status("evt-b"))
	require.Empty(t, repo.Pending())

	require.ErrorIs(t, repo.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)
}

func TestOutboxRepository_Stats(t *testing.T) {
	repo := NewOutboxRepository()
	ctx := context.Background()

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.enqueue(domain.OutboxMessage{ID: "a"}, domain.OutboxMessage{ID: "b"}))
	require.NoError(t, repo.MarkSent(ctx, "a"))

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())
}
