package restaurant

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

var errCatalogDown = errors.New("catalog down")

func TestValidator_ValidOrderUsesLivePrices(t *testing.T) {
	v := NewValidator(seededDirectory(), testShield("validator-ok"))

	res, err := v.Validate(context.Background(), "pho-bar", []Line{
		{MenuItemID: "pho", Quantity: 2},
		{MenuItemID: "tea", Quantity: 1},
	})
	require.NoError(t, err)
	require.Equal(t, "Pho Bar", res.Restaurant.Name)
	require.Equal(t, "owner-1", res.Restaurant.OwnerID)
	require.Len(t, res.Items, 2)
	require.Equal(t, int64(1000), res.Items[0].SubtotalMinor)
	require.Equal(t, int64(300), res.Items[1].SubtotalMinor)
	require.Equal(t, int64(1300), res.TotalMinor)
}

func TestValidator_PriceChangeIsPickedUp(t *testing.T) {
	dir := seededDirectory()
	v := NewValidator(dir, testShield("validator-price"))
	require.NoError(t, dir.SetPrice("pho-bar", "pho", 650))

	res, err := v.Validate(context.Background(), "pho-bar", []Line{{MenuItemID: "pho", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, int64(650), res.Items[0].UnitPriceMinor)
}

func TestValidator_DuplicateLinesFetchedOnce(t *testing.T) {
	v := NewValidator(seededDirectory(), testShield("validator-dup"), WithConcurrency(1))

	res, err := v.Validate(context.Background(), "pho-bar", []Line{
		{MenuItemID: "pho", Quantity: 1},
		{MenuItemID: "pho", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.Equal(t, int64(1500), res.TotalMinor)
}

func TestValidator_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		restaurant string
		lines      []Line
		want       error
		kind       error
	}{
		{
			name:       "inactive restaurant",
			restaurant: "closed-diner",
			lines:      []Line{{MenuItemID: "burger", Quantity: 1}},
			want:       domain.ErrRestaurantInactive,
			kind:       domain.ErrValidation,
		},
		{
			name:       "unknown restaurant",
			restaurant: "nowhere",
			lines:      []Line{{MenuItemID: "pho", Quantity: 1}},
			want:       domain.ErrRestaurantNotFound,
			kind:       domain.ErrNotFound,
		},
		{
			name:       "unknown item",
			restaurant: "pho-bar",
			lines:      []Line{{MenuItemID: "pizza", Quantity: 1}},
			want:       domain.ErrMenuItemNotFound,
			kind:       domain.ErrNotFound,
		},
		{
			name:       "unavailable item",
			restaurant: "pho-bar",
			lines:      []Line{{MenuItemID: "pho", Quantity: 1}, {MenuItemID: "soup", Quantity: 1}},
			want:       domain.ErrItemUnavailable,
			kind:       domain.ErrValidation,
		},
		{
			name:       "zero quantity",
			restaurant: "pho-bar",
			lines:      []Line{{MenuItemID: "pho", Quantity: 0}},
			want:       domain.ErrItemQtyInvalid,
			kind:       domain.ErrValidation,
		},
		{
			name:       "no lines",
			restaurant: "pho-bar",
			want:       domain.ErrItemsRequired,
			kind:       domain.ErrValidation,
		},
	}

	v := NewValidator(seededDirectory(), testShield("validator-reject"))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tc.restaurant, tc.lines)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, tc.kind, domain.KindOf(err))
		})
	}

	require.Equal(t, "closed", v.shield.Breaker().State().String(), "business rejections must not trip the breaker")
}

func TestValidator_DependencyUnavailable(t *testing.T) {
	catalog := &unavailableCatalog{}
	v := NewValidator(catalog, testShield("validator-down"))

	_, err := v.Validate(context.Background(), "pho-bar", []Line{{MenuItemID: "pho", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrDependencyUnavailable)
	require.Equal(t, int32(2), atomic.LoadInt32(&catalog.calls), "one retry expected")
}

func TestValidator_OpenBreakerSkipsCatalog(t *testing.T) {
	catalog := &unavailableCatalog{}
	v := NewValidator(catalog, testShield("validator-open"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := v.Restaurant(ctx, "pho-bar")
		require.ErrorIs(t, err, domain.ErrDependencyUnavailable)
	}
	calls := atomic.LoadInt32(&catalog.calls)

	_, err := v.Validate(ctx, "pho-bar", []Line{{MenuItemID: "pho", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	require.Equal(t, calls, atomic.LoadInt32(&catalog.calls))
}
