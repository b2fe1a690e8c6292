package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/identra/identity/internal/identity"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ identity.Store = (*Store)(nil)

// Store implements identity.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects with the pgx stdlib driver and tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool (used by tests).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() identity.UserStore             { return &userStore{db: s.db} }
func (s *Store) Roles() identity.RoleStore             { return &roleStore{db: s.db} }
func (s *Store) Permissions() identity.PermissionStore { return &permissionStore{db: s.db} }
func (s *Store) Routes() identity.RouteStore           { return &routeStore{db: s.db} }
func (s *Store) Sessions() identity.SessionStore       { return &sessionStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrConflict
	}
	return err
}
