package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/storage/memory"
)

func TestNotificationRepository_ClaimIsUniquePerPurpose(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()

	claimed, err := repo.Claim(ctx, domain.Notification{
		EventID:   "evt-1",
		Purpose:   domain.PurposeOrderPlacedCustomer,
		Recipient: "customer-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, claimed.ID)
	require.Equal(t, domain.NotificationStatusPending, claimed.Status)

	_, err = repo.Claim(ctx, domain.Notification{EventID: "evt-1", Purpose: domain.PurposeOrderPlacedCustomer})
	require.ErrorIs(t, err, domain.ErrNotificationExists)

	_, err = repo.Claim(ctx, domain.Notification{EventID: "evt-1", Purpose: domain.PurposeOrderPlacedRestaurant})
	require.NoError(t, err)

	list, err := repo.ListByEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestNotificationRepository_GetAndFinalize(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()

	_, err := repo.Get(ctx, "evt-2", domain.PurposeRestaurantWelcome)
	require.ErrorIs(t, err, domain.ErrNotificationNotFound)

	claimed, err := repo.Claim(ctx, domain.Notification{EventID: "evt-2", Purpose: domain.PurposeRestaurantWelcome})
	require.NoError(t, err)

	require.NoError(t, repo.Finalize(ctx, claimed.ID, domain.NotificationStatusFailed, "smtp down"))

	got, err := repo.Get(ctx, "evt-2", domain.PurposeRestaurantWelcome)
	require.NoError(t, err)
	require.Equal(t, domain.NotificationStatusFailed, got.Status)
	require.Equal(t, "smtp down", got.Error)

	require.ErrorIs(t, repo.Finalize(ctx, "missing", domain.NotificationStatusSent, ""), domain.ErrNotificationNotFound)
}

func TestNotificationRepository_ReclaimStalePending(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()

	stuck, err := repo.Claim(ctx, domain.Notification{EventID: "evt-3", Purpose: domain.PurposeOrderPlacedCustomer, Body: "placed"})
	require.NoError(t, err)
	done, err := repo.Claim(ctx, domain.Notification{EventID: "evt-3", Purpose: domain.PurposeOrderPlacedRestaurant})
	require.NoError(t, err)
	require.NoError(t, repo.Finalize(ctx, done.ID, domain.NotificationStatusSent, ""))

	fresh, err := repo.ListStalePending(ctx, stuck.UpdatedAt.Add(-time.Second), 10)
	require.NoError(t, err)
	require.Empty(t, fresh, "records within the lease are not stale")

	_, err = repo.Reclaim(ctx, stuck.ID, stuck.UpdatedAt.Add(-time.Second))
	require.ErrorIs(t, err, domain.ErrNotificationExists)

	cutoff := time.Now().UTC().Add(time.Minute)
	stale, err := repo.ListStalePending(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, stuck.ID, stale[0].ID)

	reclaimed, err := repo.Reclaim(ctx, stuck.ID, stuck.UpdatedAt)
	require.NoError(t, err)
	require.Equal(t, "placed", reclaimed.Body)
	require.Equal(t, domain.NotificationStatusPending, reclaimed.Status)

	// Второй претендент с тем же cutoff уже опоздал.
	_, err = repo.Reclaim(ctx, stuck.ID, stuck.UpdatedAt)
	require.ErrorIs(t, err, domain.ErrNotificationExists)

	_, err = repo.Reclaim(ctx, done.ID, cutoff)
	require.ErrorIs(t, err, domain.ErrNotificationExists)
	_, err = repo.Reclaim(ctx, "missing", cutoff)
	require.ErrorIs(t, err, domain.ErrNotificationNotFound)
}
