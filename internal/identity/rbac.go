package identity

import (
	"context"
	"errors"
	"sort"
)

// Resolver answers authorization queries over the user/role/permission/
// route graph. Two enforcement paths coexist on the same graph and are
// exposed separately: permission-name membership (claims checked by
// resource handlers) and explicit role-route grants (checked by routing
// guards). Callers pick the model their resource uses.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the names of active roles assigned to the user and
// the deduplicated union of active permissions those roles carry. A
// user with no assignments yields empty sets, not an error. Results
// are sorted so repeated resolutions are order-independent.
func (r *Resolver) Resolve(ctx context.Context, userID string) (roles []string, permissions []string, err error) {
	assignments, err := r.store.Roles().AssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	roles = []string{}
	permSet := make(map[string]struct{})
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		role, err := r.store.Roles().Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		if !role.Active {
			continue
		}
		roles = append(roles, role.Name)

		perms, err := r.store.Permissions().ForRole(ctx, a.RoleID)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range perms {
			if p.Active {
				permSet[p.Name] = struct{}{}
			}
		}
	}

	permissions = make([]string, 0, len(permSet))
	for name := range permSet {
		permissions = append(permissions, name)
	}
	sort.Strings(roles)
	sort.Strings(permissions)
	return roles, permissions, nil
}

// ActiveRoleIDs returns the role ids reachable from the user through
// active assignment edges to active roles.
func (r *Resolver) ActiveRoleIDs(ctx context.Context, userID string) ([]string, error) {
	assignments, err := r.store.Roles().AssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		role, err := r.store.Roles().Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if role.Active {
			ids = append(ids, role.ID)
		}
	}
	return ids, nil
}

// RouteAccess reports whether the role holds a direct active grant on
// an active route.
func (r *Resolver) RouteAccess(ctx context.Context, routeID, roleID string) (bool, error) {
	ok, err := r.roleActive(ctx, roleID)
	if err != nil || !ok {
		return false, err
	}
	granted, err := r.grantedRoutes(ctx, roleID)
	if err != nil {
		return false, err
	}
	if _, ok := granted[routeID]; !ok {
		return false, nil
	}
	route, err := r.store.Routes().FindRoute(ctx, routeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return route.Active, nil
}

// ModuleAccess reports whether the role can reach the module: it holds
// an active grant on an active route owned by the module or by any of
// its descendants. Traversal carries a visited set so a cyclic
// parent/child relation cannot recurse forever.
func (r *Resolver) ModuleAccess(ctx context.Context, moduleID, roleID string) (bool, error) {
	ok, err := r.roleActive(ctx, roleID)
	if err != nil || !ok {
		return false, err
	}
	module, err := r.store.Routes().FindModule(ctx, moduleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !module.Active {
		return false, nil
	}
	granted, err := r.grantedRoutes(ctx, roleID)
	if err != nil {
		return false, err
	}
	if len(granted) == 0 {
		return false, nil
	}

	visited := map[string]struct{}{}
	queue := []string{moduleID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		routes, err := r.store.Routes().RoutesForModule(ctx, current)
		if err != nil {
			return false, err
		}
		for _, route := range routes {
			if !route.Active {
				continue
			}
			if _, ok := granted[route.ID]; ok {
				return true, nil
			}
		}

		children, err := r.store.Routes().ChildModules(ctx, current)
		if err != nil {
			return false, err
		}
		for _, child := range children {
			if child.Active {
				queue = append(queue, child.ID)
			}
		}
	}
	return false, nil
}

func (r *Resolver) roleActive(ctx context.Context, roleID string) (bool, error) {
	role, err := r.store.Roles().Find(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return role.Active, nil
}

func (r *Resolver) grantedRoutes(ctx context.Context, roleID string) (map[string]struct{}, error) {
	grants, err := r.store.Routes().GrantsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if g.Active {
			set[g.RouteID] = struct{}{}
		}
	}
	return set, nil
}
