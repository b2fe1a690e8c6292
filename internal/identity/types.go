package identity

import "time"

// User statuses. A user is never hard-deleted; the status moves to
// StatusDeleted instead.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusLocked    = "locked"
	StatusSuspended = "suspended"
	StatusDeleted   = "deleted"
)

// User is a unique identity record. Lockout counters and the security
// stamp are owned exclusively by the user row.
type User struct {
	ID                string
	Username          string
	Email             string
	PasswordHash      string
	Status            string
	LockoutEnabled    bool
	FailedAccessCount int
	LockoutEnd        time.Time // zero when not locked
	SecurityStamp     string
	ConcurrencyStamp  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Role groups permissions and route grants.
type Role struct {
	ID          string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a named capability attached to roles.
type Permission struct {
	ID          string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// Module is a node of the navigation/API surface. Routes belong to a
// module; modules may nest via ParentID.
type Module struct {
	ID        string
	Name      string
	ParentID  string
	Active    bool
	CreatedAt time.Time
}

// Route is a protected endpoint owned by a module.
type Route struct {
	ID        string
	ModuleID  string
	Name      string
	Path      string
	Active    bool
	CreatedAt time.Time
}

// AuditMeta is carried by every junction row.
type AuditMeta struct {
	CreatedBy  string
	CreatedAt  time.Time
	ModifiedBy string
	ModifiedAt time.Time
}

// RoleAssignment links a user to a role. Only active edges count for
// authorization.
type RoleAssignment struct {
	UserID string
	RoleID string
	Active bool
	AuditMeta
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID       string
	PermissionID string
	Active       bool
	AuditMeta
}

// RouteGrant gives a role direct access to a route, independent of the
// permission graph.
type RouteGrant struct {
	RoleID  string
	RouteID string
	Active  bool
	AuditMeta
}

// Session is a persisted refresh-token record. One row per issued
// refresh token; at most one row per user is active at a time.
type Session struct {
	ID           string
	UserID       string
	Token        string
	ExpiresAt    time.Time
	Active       bool
	LastActivity time.Time
	RemoteAddr   string
	UserAgent    string
	CreatedAt    time.Time
}

// ClientMeta describes the client a session was issued to.
type ClientMeta struct {
	RemoteAddr string
	UserAgent  string
}
