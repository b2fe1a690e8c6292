// Command seed bootstraps a deployment with an admin identity, the
// Admin role, baseline permissions and their junction rows.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/store/pg"
)

var baselinePermissions = []identity.Permission{
	{Name: "Users.View", Description: "List and inspect users", Active: true},
	{Name: "Users.Create", Description: "Create users", Active: true},
	{Name: "Users.Unlock", Description: "Clear account lockouts", Active: true},
	{Name: "Roles.Manage", Description: "Manage roles and assignments", Active: true},
}

func main() {
	var (
		username = flag.String("username", "admin", "admin username")
		email    = flag.String("email", "admin@example.com", "admin email")
		password = flag.String("password", "", "admin password (required)")
	)
	flag.Parse()

	if *password == "" {
		log.Fatal("-password is required")
	}
	dsn := os.Getenv("IDENTITY_PG_DSN")
	if dsn == "" {
		log.Fatal("IDENTITY_PG_DSN is required")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Permissions().Ensure(ctx, baselinePermissions); err != nil {
		log.Fatalf("ensure permissions: %v", err)
	}

	role := &identity.Role{Name: "Admin", Description: "Full administrative access", Active: true}
	if err := store.Roles().Create(ctx, role); err != nil {
		if !errors.Is(err, identity.ErrConflict) {
			log.Fatalf("create role: %v", err)
		}
		existing, err := store.Roles().FindByName(ctx, role.Name)
		if err != nil {
			log.Fatalf("find role: %v", err)
		}
		role = existing
	}

	names := make([]string, len(baselinePermissions))
	for i, p := range baselinePermissions {
		names[i] = p.Name
	}
	if err := store.Permissions().SetForRole(ctx, role.ID, names, "seed"); err != nil {
		log.Fatalf("set role permissions: %v", err)
	}

	hash, err := identity.HashPassword(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	user := &identity.User{
		Username:       *username,
		Email:          *email,
		PasswordHash:   hash,
		Status:         identity.StatusActive,
		LockoutEnabled: true,
		SecurityStamp:  uuid.NewString(),
	}
	if err := store.Users().Create(ctx, user); err != nil {
		if !errors.Is(err, identity.ErrConflict) {
			log.Fatalf("create user: %v", err)
		}
		existing, err := store.Users().FindByLogin(ctx, *username)
		if err != nil {
			log.Fatalf("find user: %v", err)
		}
		user = existing
	}

	if err := store.Roles().Assign(ctx, identity.RoleAssignment{
		UserID: user.ID,
		RoleID: role.ID,
		Active: true,
		AuditMeta: identity.AuditMeta{
			CreatedBy: "seed",
		},
	}); err != nil {
		log.Fatalf("assign role: %v", err)
	}

	log.Printf("seeded admin user %s (%s) with role %s", user.Username, user.ID, role.Name)
}
