package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/ids"
)

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *identity.Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, token, expires_at, active, last_activity, remote_addr, user_agent)
		values($1,$2,$3,$4,$5,$6,$7,$8)
	`, sess.ID, sess.UserID, sess.Token, sess.ExpiresAt, sess.Active, sess.LastActivity,
		sess.RemoteAddr, sess.UserAgent)
	return mapWriteError(err)
}

func (s *sessionStore) FindByToken(ctx context.Context, token string) (*identity.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, token, expires_at, active, last_activity, remote_addr, user_agent, created_at
		from sessions where token=$1
	`, token)
	var sess identity.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.ExpiresAt, &sess.Active,
		&sess.LastActivity, &sess.RemoteAddr, &sess.UserAgent, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update sessions set last_activity=$2 where id=$1`, id, at)
	return err
}

func (s *sessionStore) DeactivateForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set active=false where user_id=$1 and active`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionStore) Delete(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `delete from sessions where token=$1`, token)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
