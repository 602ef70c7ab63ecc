package domain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

func TestNewActor(t *testing.T) {
	actor := domain.NewActor(" user-1 ", "customer, restaurant_owner,,")
	require.Equal(t, "user-1", actor.ID)
	require.True(t, actor.HasRole(domain.RoleCustomer))
	require.True(t, actor.HasRole(domain.RoleRestaurantOwner))
	require.False(t, actor.IsAdmin())

	anon := domain.NewActor("", "ADMIN")
	require.True(t, anon.IsAnonymous())
	require.False(t, anon.IsAdmin())
}

func TestActorContext(t *testing.T) {
	require.True(t, domain.ActorFromContext(context.Background()).IsAnonymous())

	ctx := domain.ContextWithActor(context.Background(), domain.Actor{ID: "admin", Roles: []domain.Role{domain.RoleAdmin}})
	actor := domain.ActorFromContext(ctx)
	require.Equal(t, "admin", actor.ID)
	require.True(t, actor.IsAdmin())
}
