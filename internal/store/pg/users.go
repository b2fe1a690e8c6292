package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/ids"
)

type userStore struct{ db *sql.DB }

const userColumns = `id, username, email, password_hash, status, lockout_enabled,
	failed_access_count, lockout_end, security_stamp, concurrency_stamp, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, username, email, password_hash, status, lockout_enabled,
			failed_access_count, lockout_end, security_stamp, concurrency_stamp)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Status, u.LockoutEnabled,
		u.FailedAccessCount, nullTime(u.LockoutEnd), u.SecurityStamp, u.ConcurrencyStamp)
	return mapWriteError(err)
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByLogin(ctx context.Context, usernameOrEmail string) (*identity.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1 or email=lower($1)`, usernameOrEmail)
	return scanUser(row)
}

func (s *userStore) Update(ctx context.Context, u *identity.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users set username=$2, email=$3, password_hash=$4, status=$5, lockout_enabled=$6,
			failed_access_count=$7, lockout_end=$8, security_stamp=$9, concurrency_stamp=$10,
			updated_at=now()
		where id=$1
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Status, u.LockoutEnabled,
		u.FailedAccessCount, nullTime(u.LockoutEnd), u.SecurityStamp, u.ConcurrencyStamp)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (s *userStore) UpdateLockout(ctx context.Context, userID string, failedCount int, lockoutEnd time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set failed_access_count=$2, lockout_end=$3, updated_at=now() where id=$1
	`, userID, failedCount, nullTime(lockoutEnd))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanUser(row *sql.Row) (*identity.User, error) {
	var (
		u          identity.User
		lockoutEnd sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Status, &u.LockoutEnabled,
		&u.FailedAccessCount, &lockoutEnd, &u.SecurityStamp, &u.ConcurrencyStamp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	if lockoutEnd.Valid {
		u.LockoutEnd = lockoutEnd.Time
	}
	return &u, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}
