package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/ids"
)

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Create(ctx context.Context, role *identity.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into roles(id, name, description, active) values($1,$2,$3,$4)
	`, role.ID, role.Name, role.Description, role.Active)
	return mapWriteError(err)
}

func (s *roleStore) Find(ctx context.Context, id string) (*identity.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, active, created_at, updated_at from roles where id=$1`, id)
	return scanRole(row)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*identity.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, active, created_at, updated_at from roles where name=$1`, name)
	return scanRole(row)
}

func (s *roleStore) Assign(ctx context.Context, a identity.RoleAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles(user_id, role_id, active, created_by, modified_by)
		values($1,$2,$3,$4,$4)
		on conflict (user_id, role_id) do update
		set active = excluded.active, modified_by = excluded.modified_by, modified_at = now()
	`, a.UserID, a.RoleID, a.Active, a.CreatedBy)
	return mapWriteError(err)
}

func (s *roleStore) AssignmentsForUser(ctx context.Context, userID string) ([]identity.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, active, created_by, created_at, modified_by, modified_at
		from user_roles where user_id=$1 and active
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.RoleAssignment
	for rows.Next() {
		var a identity.RoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.Active, &a.CreatedBy, &a.CreatedAt, &a.ModifiedBy, &a.ModifiedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanRole(row *sql.Row) (*identity.Role, error) {
	var role identity.Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// Permission store ---------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []identity.Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx, `
			insert into permissions(id, name, description, active)
			values($1,$2,$3,$4) on conflict (name) do nothing
		`, p.ID, p.Name, p.Description, p.Active)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) SetForRole(ctx context.Context, roleID string, names []string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, name := range names {
		_, err := tx.ExecContext(ctx, `
			insert into role_permissions(role_id, permission_id, active, created_by, modified_by)
			select $1, id, true, $3, $3 from permissions where name=$2
		`, roleID, name, actor)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *permissionStore) ForRole(ctx context.Context, roleID string) ([]identity.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.description, p.active, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id=$1 and rp.active
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []identity.Permission
	for rows.Next() {
		var p identity.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Route store --------------------------------------------------------------

type routeStore struct{ db *sql.DB }

func (s *routeStore) FindRoute(ctx context.Context, routeID string) (*identity.Route, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, module_id, name, path, active, created_at from routes where id=$1`, routeID)
	var r identity.Route
	err := row.Scan(&r.ID, &r.ModuleID, &r.Name, &r.Path, &r.Active, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *routeStore) FindModule(ctx context.Context, moduleID string) (*identity.Module, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, coalesce(parent_id, ''), active, created_at from modules where id=$1`, moduleID)
	var m identity.Module
	err := row.Scan(&m.ID, &m.Name, &m.ParentID, &m.Active, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *routeStore) ChildModules(ctx context.Context, moduleID string) ([]identity.Module, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, coalesce(parent_id, ''), active, created_at from modules where parent_id=$1
	`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []identity.Module
	for rows.Next() {
		var m identity.Module
		if err := rows.Scan(&m.ID, &m.Name, &m.ParentID, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (s *routeStore) RoutesForModule(ctx context.Context, moduleID string) ([]identity.Route, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, module_id, name, path, active, created_at from routes where module_id=$1
	`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []identity.Route
	for rows.Next() {
		var r identity.Route
		if err := rows.Scan(&r.ID, &r.ModuleID, &r.Name, &r.Path, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *routeStore) Grant(ctx context.Context, g identity.RouteGrant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_routes(role_id, route_id, active, created_by, modified_by)
		values($1,$2,$3,$4,$4)
		on conflict (role_id, route_id) do update
		set active = excluded.active, modified_by = excluded.modified_by, modified_at = now()
	`, g.RoleID, g.RouteID, g.Active, g.CreatedBy)
	return mapWriteError(err)
}

func (s *routeStore) GrantsForRole(ctx context.Context, roleID string) ([]identity.RouteGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id, route_id, active, created_by, created_at, modified_by, modified_at
		from role_routes where role_id=$1 and active
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []identity.RouteGrant
	for rows.Next() {
		var g identity.RouteGrant
		if err := rows.Scan(&g.RoleID, &g.RouteID, &g.Active, &g.CreatedBy, &g.CreatedAt, &g.ModifiedBy, &g.ModifiedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
