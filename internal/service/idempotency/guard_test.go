package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/storage/memory"
)

func TestGuard_ExecuteReplaysStoredResponse(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)

	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{"id":"order-1"}`)}
	}

	hash := RequestHash("POST /orders customer-1", []byte(`{"restaurantId":"r-1"}`))

	first, replayed, err := guard.Execute(context.Background(), "key-1", hash, handler)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, http.StatusCreated, first.Status)

	second, replayed, err := guard.Execute(context.Background(), "key-1", hash, handler)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)

	record, err := repo.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
}

func TestGuard_ExecuteReplaysFailure(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)

	handler := func(context.Context) Response {
		return Response{Status: http.StatusBadRequest, Body: []byte(`{"error":{"code":"VALIDATION"}}`)}
	}

	_, _, err := guard.Execute(context.Background(), "key-fail", "hash", handler)
	require.NoError(t, err)

	record, err := repo.Get(context.Background(), "key-fail")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, record.Status)

	resp, replayed, err := guard.Execute(context.Background(), "key-fail", "hash", func(context.Context) Response {
		t.Fatal("handler must not run on replay")
		return Response{}
	})
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestGuard_ExecuteReleasesKeyAfterServerError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		firstStatus int
	}{
		{name: "dependency unavailable", firstStatus: http.StatusServiceUnavailable},
		{name: "internal error", firstStatus: http.StatusInternalServerError},
		{name: "handler without status", firstStatus: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := memory.NewIdempotencyRepository()
			guard := NewGuard(repo)

			statuses := []int{tc.firstStatus, http.StatusCreated}
			calls := 0
			handler := func(context.Context) Response {
				status := statuses[calls]
				calls++
				return Response{Status: status, Body: []byte(`{}`)}
			}

			first, replayed, err := guard.Execute(context.Background(), "key-5xx", "hash", handler)
			require.NoError(t, err)
			require.False(t, replayed)
			require.Equal(t, tc.firstStatus, first.Status)

			_, err = repo.Get(context.Background(), "key-5xx")
			require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

			second, replayed, err := guard.Execute(context.Background(), "key-5xx", "hash", handler)
			require.NoError(t, err)
			require.False(t, replayed)
			require.Equal(t, http.StatusCreated, second.Status)
			require.Equal(t, 2, calls)

			third, replayed, err := guard.Execute(context.Background(), "key-5xx", "hash", handler)
			require.NoError(t, err)
			require.True(t, replayed)
			require.Equal(t, http.StatusCreated, third.Status)
			require.Equal(t, 2, calls)
		})
	}
}

func TestGuard_ExecuteRejectsDifferentPayload(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository())
	ok := func(context.Context) Response { return Response{Status: http.StatusCreated} }

	_, _, err := guard.Execute(context.Background(), "key-2", "hash-a", ok)
	require.NoError(t, err)

	_, _, err = guard.Execute(context.Background(), "key-2", "hash-b", ok)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Equal(t, domain.ErrStateConflict, domain.KindOf(err))
}

func TestGuard_ExecuteRejectsConcurrentDuplicate(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	_, err := repo.CreateProcessing(context.Background(), "key-3", "hash", time.Now().Add(time.Hour))
	require.NoError(t, err)

	guard := NewGuard(repo)
	_, _, err = guard.Execute(context.Background(), "key-3", "hash", func(context.Context) Response {
		t.Fatal("handler must not run while the key is processing")
		return Response{}
	})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
}

func TestGuard_ExecuteWithoutKeyRunsHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		guard *Guard
		key   string
	}{
		{name: "empty key", guard: NewGuard(memory.NewIdempotencyRepository()), key: "  "},
		{name: "nil repo", guard: NewGuard(nil), key: "key"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			for i := 0; i < 2; i++ {
				_, replayed, err := tc.guard.Execute(context.Background(), tc.key, "hash", func(context.Context) Response {
					calls++
					return Response{Status: http.StatusCreated}
				})
				require.NoError(t, err)
				require.False(t, replayed)
			}
			require.Equal(t, 2, calls)
		})
	}
}

func TestGuard_ExecuteStoreFailure(t *testing.T) {
	t.Parallel()

	repo := &failingStoreRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	guard := NewGuard(repo)

	resp, replayed, err := guard.Execute(context.Background(), "key-4", "hash", func(context.Context) Response {
		return Response{Status: http.StatusCreated, Body: []byte("ok")}
	})
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, []byte("ok"), resp.Body)
}

func TestScopedKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "customer-1/checkout-42", ScopedKey("customer-1", " checkout-42 "))
	require.NotEqual(t, ScopedKey("customer-1", "checkout-42"), ScopedKey("customer-2", "checkout-42"))
	require.Empty(t, ScopedKey("customer-1", "   "))
}

func TestRequestHash(t *testing.T) {
	t.Parallel()

	a := RequestHash("POST /orders u1", []byte(`{"a":1}`))
	require.Len(t, a, 64)
	require.Equal(t, a, RequestHash("POST /orders u1", []byte(`{"a":1}`)))
	require.NotEqual(t, a, RequestHash("POST /orders u2", []byte(`{"a":1}`)))
	require.NotEqual(t, a, RequestHash("POST /orders u1", []byte(`{"a":2}`)))
}

type failingStoreRepo struct {
	domain.IdempotencyRepository
}

func (r *failingStoreRepo) MarkDone(context.Context, string, []byte, int) error {
	return errors.New("store down")
}
