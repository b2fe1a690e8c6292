// Package identitytest provides a thread-safe in-memory identity.Store
// for tests. Error hooks let callers simulate storage failures on
// specific operations.
package identitytest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/identra/identity/internal/identity"
)

// Store implements identity.Store in memory.
type Store struct {
	mu sync.Mutex

	UsersByID   map[string]*identity.User
	RolesByID   map[string]*identity.Role
	PermsByID   map[string]*identity.Permission
	ModulesByID map[string]*identity.Module
	RoutesByID  map[string]*identity.Route

	Assignments []identity.RoleAssignment
	RolePerms   []identity.RolePermission
	Grants      []identity.RouteGrant

	SessionsByToken map[string]*identity.Session

	// Error hooks. When set, the corresponding operation fails.
	FindUserErr      error
	UpdateLockoutErr error
	DeactivateErr    error
	CreateSessionErr error
}

func New() *Store {
	return &Store{
		UsersByID:       map[string]*identity.User{},
		RolesByID:       map[string]*identity.Role{},
		PermsByID:       map[string]*identity.Permission{},
		ModulesByID:     map[string]*identity.Module{},
		RoutesByID:      map[string]*identity.Route{},
		SessionsByToken: map[string]*identity.Session{},
	}
}

func (s *Store) Users() identity.UserStore             { return userAPI{s} }
func (s *Store) Roles() identity.RoleStore             { return roleAPI{s} }
func (s *Store) Permissions() identity.PermissionStore { return permAPI{s} }
func (s *Store) Routes() identity.RouteStore           { return routeAPI{s} }
func (s *Store) Sessions() identity.SessionStore       { return sessionAPI{s} }

// AddUser stores a copy and returns its id.
func (s *Store) AddUser(u identity.User) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UsersByID[u.ID] = &u
	return u.ID
}

// User returns a copy of the stored user.
func (s *Store) User(id string) identity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.UsersByID[id]
}

// AddRole stores a copy.
func (s *Store) AddRole(r identity.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RolesByID[r.ID] = &r
}

// Assign appends an assignment edge.
func (s *Store) Assign(a identity.RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Assignments = append(s.Assignments, a)
}

// AddPermission stores a copy and links it to the role when roleID is
// non-empty.
func (s *Store) AddPermission(p identity.Permission, roleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PermsByID[p.ID] = &p
	if roleID != "" {
		s.RolePerms = append(s.RolePerms, identity.RolePermission{
			RoleID: roleID, PermissionID: p.ID, Active: true,
		})
	}
}

// LinkPermission adds a role-permission edge.
func (s *Store) LinkPermission(roleID, permID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RolePerms = append(s.RolePerms, identity.RolePermission{
		RoleID: roleID, PermissionID: permID, Active: active,
	})
}

// AddModule stores a copy.
func (s *Store) AddModule(m identity.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ModulesByID[m.ID] = &m
}

// AddRoute stores a copy.
func (s *Store) AddRoute(r identity.Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RoutesByID[r.ID] = &r
}

// GrantRoute appends a role-route grant edge.
func (s *Store) GrantRoute(roleID, routeID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Grants = append(s.Grants, identity.RouteGrant{RoleID: roleID, RouteID: routeID, Active: active})
}

// Session returns a copy of the session stored under the token.
func (s *Store) Session(token string) (identity.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.SessionsByToken[token]
	if !ok {
		return identity.Session{}, false
	}
	return *sess, true
}

// --- identity.UserStore ---

type userAPI struct{ s *Store }

func (a userAPI) Create(ctx context.Context, u *identity.User) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.UsersByID[u.ID]; ok {
		return identity.ErrConflict
	}
	clone := *u
	a.s.UsersByID[u.ID] = &clone
	return nil
}

func (a userAPI) Find(ctx context.Context, id string) (*identity.User, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.FindUserErr != nil {
		return nil, a.s.FindUserErr
	}
	u, ok := a.s.UsersByID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (a userAPI) FindByLogin(ctx context.Context, usernameOrEmail string) (*identity.User, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.FindUserErr != nil {
		return nil, a.s.FindUserErr
	}
	needle := strings.ToLower(usernameOrEmail)
	for _, u := range a.s.UsersByID {
		if u.Username == usernameOrEmail || strings.ToLower(u.Email) == needle {
			clone := *u
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (a userAPI) Update(ctx context.Context, u *identity.User) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.UsersByID[u.ID]; !ok {
		return identity.ErrNotFound
	}
	clone := *u
	a.s.UsersByID[u.ID] = &clone
	return nil
}

func (a userAPI) UpdateLockout(ctx context.Context, userID string, failedCount int, lockoutEnd time.Time) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.UpdateLockoutErr != nil {
		return a.s.UpdateLockoutErr
	}
	u, ok := a.s.UsersByID[userID]
	if !ok {
		return identity.ErrNotFound
	}
	u.FailedAccessCount = failedCount
	u.LockoutEnd = lockoutEnd
	return nil
}

// --- identity.RoleStore ---

type roleAPI struct{ s *Store }

func (a roleAPI) Create(ctx context.Context, role *identity.Role) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.RolesByID[role.ID]; ok {
		return identity.ErrConflict
	}
	clone := *role
	a.s.RolesByID[role.ID] = &clone
	return nil
}

func (a roleAPI) Find(ctx context.Context, id string) (*identity.Role, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	r, ok := a.s.RolesByID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (a roleAPI) FindByName(ctx context.Context, name string) (*identity.Role, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, r := range a.s.RolesByID {
		if r.Name == name {
			clone := *r
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (a roleAPI) Assign(ctx context.Context, assignment identity.RoleAssignment) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.Assignments = append(a.s.Assignments, assignment)
	return nil
}

func (a roleAPI) AssignmentsForUser(ctx context.Context, userID string) ([]identity.RoleAssignment, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []identity.RoleAssignment
	for _, edge := range a.s.Assignments {
		if edge.UserID == userID && edge.Active {
			out = append(out, edge)
		}
	}
	return out, nil
}

// --- identity.PermissionStore ---

type permAPI struct{ s *Store }

func (a permAPI) Ensure(ctx context.Context, perms []identity.Permission) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, p := range perms {
		clone := p
		a.s.PermsByID[p.ID] = &clone
	}
	return nil
}

func (a permAPI) SetForRole(ctx context.Context, roleID string, names []string, actor string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	kept := a.s.RolePerms[:0]
	for _, edge := range a.s.RolePerms {
		if edge.RoleID != roleID {
			kept = append(kept, edge)
		}
	}
	a.s.RolePerms = kept
	for _, name := range names {
		for id, p := range a.s.PermsByID {
			if p.Name == name {
				a.s.RolePerms = append(a.s.RolePerms, identity.RolePermission{
					RoleID: roleID, PermissionID: id, Active: true,
				})
			}
		}
	}
	return nil
}

func (a permAPI) ForRole(ctx context.Context, roleID string) ([]identity.Permission, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []identity.Permission
	for _, edge := range a.s.RolePerms {
		if edge.RoleID != roleID || !edge.Active {
			continue
		}
		if p, ok := a.s.PermsByID[edge.PermissionID]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// --- identity.RouteStore ---

type routeAPI struct{ s *Store }

func (a routeAPI) FindRoute(ctx context.Context, routeID string) (*identity.Route, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	r, ok := a.s.RoutesByID[routeID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (a routeAPI) FindModule(ctx context.Context, moduleID string) (*identity.Module, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	m, ok := a.s.ModulesByID[moduleID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (a routeAPI) ChildModules(ctx context.Context, moduleID string) ([]identity.Module, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []identity.Module
	for _, m := range a.s.ModulesByID {
		if m.ParentID == moduleID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (a routeAPI) RoutesForModule(ctx context.Context, moduleID string) ([]identity.Route, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []identity.Route
	for _, r := range a.s.RoutesByID {
		if r.ModuleID == moduleID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (a routeAPI) Grant(ctx context.Context, g identity.RouteGrant) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.Grants = append(a.s.Grants, g)
	return nil
}

func (a routeAPI) GrantsForRole(ctx context.Context, roleID string) ([]identity.RouteGrant, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []identity.RouteGrant
	for _, g := range a.s.Grants {
		if g.RoleID == roleID && g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

// --- identity.SessionStore ---

type sessionAPI struct{ s *Store }

func (a sessionAPI) Create(ctx context.Context, sess *identity.Session) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.CreateSessionErr != nil {
		return a.s.CreateSessionErr
	}
	clone := *sess
	a.s.SessionsByToken[sess.Token] = &clone
	return nil
}

func (a sessionAPI) FindByToken(ctx context.Context, token string) (*identity.Session, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	sess, ok := a.s.SessionsByToken[token]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

func (a sessionAPI) Touch(ctx context.Context, id string, at time.Time) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, sess := range a.s.SessionsByToken {
		if sess.ID == id {
			sess.LastActivity = at
			return nil
		}
	}
	return identity.ErrNotFound
}

func (a sessionAPI) DeactivateForUser(ctx context.Context, userID string) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.DeactivateErr != nil {
		return 0, a.s.DeactivateErr
	}
	var n int64
	for _, sess := range a.s.SessionsByToken {
		if sess.UserID == userID && sess.Active {
			sess.Active = false
			n++
		}
	}
	return n, nil
}

func (a sessionAPI) Delete(ctx context.Context, token string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.SessionsByToken[token]; !ok {
		return identity.ErrNotFound
	}
	delete(a.s.SessionsByToken, token)
	return nil
}

func (a sessionAPI) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var n int64
	for token, sess := range a.s.SessionsByToken {
		if sess.ExpiresAt.Before(cutoff) {
			delete(a.s.SessionsByToken, token)
			n++
		}
	}
	return n, nil
}
