package domain

import (
	"context"
	"strings"
)

// Role — роль актора, выданная шлюзом.
type Role string

const (
	RoleCustomer        Role = "CUSTOMER"
	RoleRestaurantOwner Role = "RESTAURANT_OWNER"
	RoleAdmin           Role = "ADMIN"
)

// Actor — уже проверенная личность, от имени которой выполняется операция.
// Нулевое значение означает анонимный запрос.
type Actor struct {
	ID    string
	Roles []Role
}

// NewActor собирает актора из идентификатора и строки ролей через запятую.
func NewActor(id, roles string) Actor {
	actor := Actor{ID: strings.TrimSpace(id)}
	if actor.ID == "" {
		return Actor{}
	}
	for _, raw := range strings.Split(roles, ",") {
		role := Role(strings.ToUpper(strings.TrimSpace(raw)))
		if role == "" {
			continue
		}
		actor.Roles = append(actor.Roles, role)
	}
	return actor
}

// IsAnonymous сообщает, что личность не передана.
func (a Actor) IsAnonymous() bool {
	return a.ID == ""
}

// HasRole проверяет наличие роли.
func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin сокращает HasRole(RoleAdmin).
func (a Actor) IsAdmin() bool {
	return !a.IsAnonymous() && a.HasRole(RoleAdmin)
}

type actorContextKey struct{}

// ContextWithActor кладёт актора в контекст запроса.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext достаёт актора; при отсутствии возвращает анонимного.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
