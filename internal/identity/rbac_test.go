package identity_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/identity/identitytest"
)

func TestResolveDeduplicatesAndSorts(t *testing.T) {
	ctx := context.Background()
	store := identitytest.New()

	store.AddUser(identity.User{ID: "u1", Username: "alice", Status: identity.StatusActive})
	store.AddRole(identity.Role{ID: "r-ops", Name: "Operator", Active: true})
	store.AddRole(identity.Role{ID: "r-audit", Name: "Auditor", Active: true})
	store.Assign(identity.RoleAssignment{UserID: "u1", RoleID: "r-ops", Active: true})
	store.Assign(identity.RoleAssignment{UserID: "u1", RoleID: "r-audit", Active: true})

	// Users.View hangs off both roles and must appear once.
	store.AddPermission(identity.Permission{ID: "p-view", Name: "Users.View", Active: true}, "r-ops")
	store.LinkPermission("r-audit", "p-view", true)
	store.AddPermission(identity.Permission{ID: "p-create", Name: "Users.Create", Active: true}, "r-ops")
	store.AddPermission(identity.Permission{ID: "p-audit", Name: "Audit.Read", Active: true}, "r-audit")

	resolver := identity.NewResolver(store)
	roles, permissions, err := resolver.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []string{"Auditor", "Operator"}; !reflect.DeepEqual(roles, want) {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if want := []string{"Audit.Read", "Users.Create", "Users.View"}; !reflect.DeepEqual(permissions, want) {
		t.Errorf("permissions = %v, want %v", permissions, want)
	}
}

func TestResolveSkipsInactiveEdges(t *testing.T) {
	ctx := context.Background()
	store := identitytest.New()

	store.AddUser(identity.User{ID: "u1", Username: "alice", Status: identity.StatusActive})

	// Active role through an inactive assignment edge.
	store.AddRole(identity.Role{ID: "r-a", Name: "A", Active: true})
	store.Assign(identity.RoleAssignment{UserID: "u1", RoleID: "r-a", Active: false})

	// Inactive role through an active edge.
	store.AddRole(identity.Role{ID: "r-b", Name: "B", Active: false})
	store.Assign(identity.RoleAssignment{UserID: "u1", RoleID: "r-b", Active: true})

	// Active role whose permission link is inactive, plus an inactive
	// permission record behind an active link.
	store.AddRole(identity.Role{ID: "r-c", Name: "C", Active: true})
	store.Assign(identity.RoleAssignment{UserID: "u1", RoleID: "r-c", Active: true})
	store.AddPermission(identity.Permission{ID: "p-1", Name: "One", Active: true}, "")
	store.LinkPermission("r-c", "p-1", false)
	store.AddPermission(identity.Permission{ID: "p-2", Name: "Two", Active: false}, "r-c")

	resolver := identity.NewResolver(store)
	roles, permissions, err := resolver.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []string{"C"}; !reflect.DeepEqual(roles, want) {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if len(permissions) != 0 {
		t.Errorf("permissions = %v, want none", permissions)
	}
}

func TestResolveNoAssignments(t *testing.T) {
	ctx := context.Background()
	store := identitytest.New()
	store.AddUser(identity.User{ID: "u1", Username: "alice", Status: identity.StatusActive})

	resolver := identity.NewResolver(store)
	roles, permissions, err := resolver.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if roles == nil || len(roles) != 0 {
		t.Errorf("roles = %#v, want empty slice", roles)
	}
	if permissions == nil || len(permissions) != 0 {
		t.Errorf("permissions = %#v, want empty slice", permissions)
	}
}

func TestRouteAccess(t *testing.T) {
	ctx := context.Background()
	store := identitytest.New()

	store.AddRole(identity.Role{ID: "r-ops", Name: "Operator", Active: true})
	store.AddRole(identity.Role{ID: "r-off", Name: "Retired", Active: false})
	store.AddModule(identity.Module{ID: "m-users", Name: "Users", Active: true})
	store.AddRoute(identity.Route{ID: "rt-list", ModuleID: "m-users", Path: "/users", Active: true})
	store.AddRoute(identity.Route{ID: "rt-gone", ModuleID: "m-users", Path: "/legacy", Active: false})

	store.GrantRoute("r-ops", "rt-list", true)
	store.GrantRoute("r-ops", "rt-gone", true)
	store.GrantRoute("r-off", "rt-list", true)

	resolver := identity.NewResolver(store)

	cases := []struct {
		name    string
		routeID string
		roleID  string
		want    bool
	}{
		{"active grant on active route", "rt-list", "r-ops", true},
		{"grant on inactive route", "rt-gone", "r-ops", false},
		{"inactive role", "rt-list", "r-off", false},
		{"no grant", "rt-list", "r-none", false},
		{"unknown route", "rt-missing", "r-ops", false},
	}
	for _, tc := range cases {
		got, err := resolver.RouteAccess(ctx, tc.routeID, tc.roleID)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: RouteAccess = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRouteAccessInactiveGrant(t *testing.T) {
	ctx := context.Background()
	store := identitytest.New()
	store.AddRole(identity.Role{ID: "r-ops", Name: "Operator", Active: true})
	store.AddRoute(identity.Route{ID: "rt-list", ModuleID: "m", Path: "/users", Active: true})
	store.GrantRoute("r-ops", "rt-list", false)

	resolver := identity.NewResolver(store)
	got, err := resolver.RouteAccess(ctx, "rt-list", "r-ops")
	if err != nil {
		t.Fatalf("RouteAccess: %v", err)
	}
	if got {
		t.Error("revoked grant still authorizes")
	}
}

func TestModuleAccessTransitive(t *testing.T) {
	ctx := context.Background()
	store := identitytest.New()

	store.AddRole(identity.Role{ID: "r-ops", Name: "Operator", Active: true})
	store.AddModule(identity.Module{ID: "m-root", Name: "Admin", Active: true})
	store.AddModule(identity.Module{ID: "m-users", Name: "Users", ParentID: "m-root", Active: true})
	store.AddModule(identity.Module{ID: "m-hidden", Name: "Hidden", ParentID: "m-root", Active: false})
	store.AddRoute(identity.Route{ID: "rt-list", ModuleID: "m-users", Path: "/users", Active: true})
	store.AddRoute(identity.Route{ID: "rt-dark", ModuleID: "m-hidden", Path: "/dark", Active: true})
	store.GrantRoute("r-ops", "rt-list", true)

	resolver := identity.NewResolver(store)

	// Reachable through the child module.
	got, err := resolver.ModuleAccess(ctx, "m-root", "r-ops")
	if err != nil {
		t.Fatalf("ModuleAccess: %v", err)
	}
	if !got {
		t.Error("root module not reachable through granted child route")
	}

	// Direct check on the owning module.
	got, err = resolver.ModuleAccess(ctx, "m-users", "r-ops")
	if err != nil {
		t.Fatalf("ModuleAccess: %v", err)
	}
	if !got {
		t.Error("owning module not reachable")
	}

	// Inactive branches do not leak access.
	got, err = resolver.ModuleAccess(ctx, "m-hidden", "r-ops")
	if err != nil {
		t.Fatalf("ModuleAccess: %v", err)
	}
	if got {
		t.Error("inactive module reachable")
	}
}

func TestModuleAccessCycleTerminates(t *testing.T) {
	ctx := context.Background()
	store := identitytest.New()

	store.AddRole(identity.Role{ID: "r-ops", Name: "Operator", Active: true})
	// a -> b -> a parent loop.
	store.AddModule(identity.Module{ID: "m-a", Name: "A", ParentID: "m-b", Active: true})
	store.AddModule(identity.Module{ID: "m-b", Name: "B", ParentID: "m-a", Active: true})
	store.AddRoute(identity.Route{ID: "rt-b", ModuleID: "m-b", Path: "/b", Active: true})
	store.GrantRoute("r-ops", "rt-b", true)

	resolver := identity.NewResolver(store)
	got, err := resolver.ModuleAccess(ctx, "m-a", "r-ops")
	if err != nil {
		t.Fatalf("ModuleAccess: %v", err)
	}
	if !got {
		t.Error("granted route in cyclic graph not found")
	}

	store.GrantRoute("r-none", "rt-b", true)
	got, err = resolver.ModuleAccess(ctx, "m-a", "r-none")
	if err != nil {
		t.Fatalf("ModuleAccess: %v", err)
	}
	if got {
		t.Error("role without active state authorized")
	}
}
