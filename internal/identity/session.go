package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/identra/identity/internal/ids"
	"github.com/identra/identity/internal/obs"
)

const defaultRefreshTTL = 7 * 24 * time.Hour

// refreshTokenBytes gives 256 bits of entropy before encoding.
const refreshTokenBytes = 32

// SessionConfig controls refresh-token lifetime.
type SessionConfig struct {
	RefreshTTL time.Duration
}

// SessionCoordinator owns the refresh-token lifecycle: creation with
// single-active-session invalidation, rotation-on-use and immediate
// logout invalidation.
type SessionCoordinator struct {
	sessions SessionStore
	cfg      SessionConfig
	log      *slog.Logger
	now      func() time.Time
}

func NewSessionCoordinator(sessions SessionStore, cfg SessionConfig, log *slog.Logger) *SessionCoordinator {
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if log == nil {
		log = obs.Logger()
	}
	return &SessionCoordinator{sessions: sessions, cfg: cfg, log: log, now: time.Now}
}

// Issue mints a cryptographically random refresh token and persists its
// session row. Prior active sessions of the user are deactivated first;
// that invalidation is best-effort — a failure is logged and counted
// but never blocks issuance.
func (c *SessionCoordinator) Issue(ctx context.Context, userID string, meta ClientMeta) (*Session, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if _, err := c.sessions.DeactivateForUser(ctx, userID); err != nil {
		obs.SessionInvalidateFailures.Inc()
		c.log.LogAttrs(ctx, slog.LevelError, "deactivate prior sessions failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}

	now := c.now().UTC()
	session := &Session{
		ID:           ids.New(),
		UserID:       userID,
		Token:        token,
		ExpiresAt:    now.Add(c.cfg.RefreshTTL),
		Active:       true,
		LastActivity: now,
		RemoteAddr:   meta.RemoteAddr,
		UserAgent:    meta.UserAgent,
		CreatedAt:    now,
	}
	if err := c.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	obs.TokensIssued.WithLabelValues("refresh").Inc()
	return session, nil
}

// Validate looks the token up and returns the owning user id. Valid iff
// the session exists, is active and has not expired. Invalid tokens
// yield ErrInvalidToken and an empty user id.
func (c *SessionCoordinator) Validate(ctx context.Context, token string) (string, error) {
	session, err := c.lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return session.UserID, nil
}

// Rotate validates the presented token, removes it and issues a
// replacement for the same user. The old token is invalid before the
// new session row exists.
func (c *SessionCoordinator) Rotate(ctx context.Context, token string, meta ClientMeta) (*Session, error) {
	session, err := c.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.sessions.Delete(ctx, token); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	replacement, err := c.Issue(ctx, session.UserID, meta)
	if err != nil {
		return nil, err
	}
	obs.RefreshRotations.Inc()
	return replacement, nil
}

// Invalidate removes the session row. Effective before returning; no
// eventual-consistency window. Idempotent when the token is already
// gone.
func (c *SessionCoordinator) Invalidate(ctx context.Context, token string) error {
	if err := c.sessions.Delete(ctx, token); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Touch records activity on the session; failures are ignored, the
// timestamp is advisory.
func (c *SessionCoordinator) Touch(ctx context.Context, session *Session) {
	_ = c.sessions.Touch(ctx, session.ID, c.now().UTC())
}

// PurgeExpired removes session rows past their expiry.
func (c *SessionCoordinator) PurgeExpired(ctx context.Context) (int64, error) {
	return c.sessions.DeleteExpired(ctx, c.now().UTC())
}

func (c *SessionCoordinator) lookup(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	session, err := c.sessions.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !session.Active || !session.ExpiresAt.After(c.now()) {
		return nil, ErrInvalidToken
	}
	return session, nil
}
