package authz

import (
	"context"
	"time"
)

// Store describes persistence operations required by the authorization
// subsystem. Implementations must return ErrNotFound / ErrConflict from
// this package so callers can classify failures with errors.Is.
type Store interface {
	EnsurePermissions(ctx context.Context, perms []Permission) error
	PermissionByKey(ctx context.Context, key string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)

	CreateBinding(ctx context.Context, b Binding) (Binding, error)
	GetBinding(ctx context.Context, id string) (Binding, error)
	ListBindings(ctx context.Context, userID string) ([]Binding, error)
	// ActiveBindings returns bindings whose validity window contains at.
	ActiveBindings(ctx context.Context, userID string, at time.Time) ([]Binding, error)
	// CountActiveBindings counts users currently holding the role.
	CountActiveBindings(ctx context.Context, roleID string, at time.Time) (int, error)
	// DeactivateBinding closes the validity window at the given instant.
	DeactivateBinding(ctx context.Context, id string, at time.Time) error
}
