package identity

import (
	"context"
	"time"
)

// Store describes the persistence operations the engine needs. All
// methods may fail with a generic storage error; sentinel errors from
// this package mark not-found and conflict cases.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	Routes() RouteStore
	Sessions() SessionStore
}

// UserStore manages identity records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByLogin resolves a user by username or email.
	FindByLogin(ctx context.Context, usernameOrEmail string) (*User, error)
	Update(ctx context.Context, u *User) error
	// UpdateLockout persists the failed-access counter and lockout end
	// without touching the rest of the row.
	UpdateLockout(ctx context.Context, userID string, failedCount int, lockoutEnd time.Time) error
}

// RoleStore manages roles and user-role assignment edges.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	Assign(ctx context.Context, a RoleAssignment) error
	// AssignmentsForUser returns active assignment edges only.
	AssignmentsForUser(ctx context.Context, userID string) ([]RoleAssignment, error)
}

// PermissionStore manages the permission catalog and role-permission
// edges.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	SetForRole(ctx context.Context, roleID string, names []string, actor string) error
	// ForRole returns permissions reachable from the role through
	// active edges. Inactive permissions are included; the resolver
	// filters them.
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// RouteStore manages the module/route surface and role-route grants.
type RouteStore interface {
	FindRoute(ctx context.Context, routeID string) (*Route, error)
	FindModule(ctx context.Context, moduleID string) (*Module, error)
	ChildModules(ctx context.Context, moduleID string) ([]Module, error)
	RoutesForModule(ctx context.Context, moduleID string) ([]Route, error)
	Grant(ctx context.Context, g RouteGrant) error
	// GrantsForRole returns active grant edges only.
	GrantsForRole(ctx context.Context, roleID string) ([]RouteGrant, error)
}

// SessionStore manages refresh-token rows.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByToken(ctx context.Context, token string) (*Session, error)
	// Touch updates the last-activity timestamp.
	Touch(ctx context.Context, id string, at time.Time) error
	// DeactivateForUser marks every active session of the user
	// inactive and reports how many rows changed.
	DeactivateForUser(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, token string) error
	// DeleteExpired removes rows whose expiry is before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
