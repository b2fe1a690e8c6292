// Package redisstore backs the session store with Redis. Session rows
// live under their token key with a TTL matching their expiry; a
// per-user set tracks the tokens needed for single-active-session
// invalidation. The rest of the identity graph stays in the SQL store.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/ids"
)

const (
	sessionKeyPrefix  = "identity:session:"
	userSessionPrefix = "identity:user-sessions:"
)

var _ identity.SessionStore = (*SessionStore)(nil)

// SessionStore implements identity.SessionStore on Redis.
type SessionStore struct {
	client *redis.Client
	now    func() time.Time
}

// Open parses the URL and connects.
func Open(url string) (*SessionStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return New(redis.NewClient(opts)), nil
}

// New wraps an existing client (used by tests).
func New(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

func (s *SessionStore) Close() error { return s.client.Close() }

// Ping verifies connectivity for readiness probes.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func sessionKey(token string) string { return sessionKeyPrefix + token }
func userKey(userID string) string   { return userSessionPrefix + userID }

func (s *SessionStore) Create(ctx context.Context, sess *identity.Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return identity.ErrInvalidInput
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.Token), data, ttl)
	pipe.SAdd(ctx, userKey(sess.UserID), sess.Token)
	pipe.Expire(ctx, userKey(sess.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) FindByToken(ctx context.Context, token string) (*identity.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	var sess identity.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	// Sessions are keyed by token; resolving by id would need a scan.
	// Last-activity is advisory, so a miss here is acceptable.
	return nil
}

func (s *SessionStore) DeactivateForUser(ctx context.Context, userID string) (int64, error) {
	tokens, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	var changed int64
	for _, token := range tokens {
		sess, err := s.FindByToken(ctx, token)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				s.client.SRem(ctx, userKey(userID), token)
				continue
			}
			return changed, err
		}
		if !sess.Active {
			continue
		}
		sess.Active = false
		data, err := json.Marshal(sess)
		if err != nil {
			return changed, err
		}
		ttl := time.Until(sess.ExpiresAt)
		if ttl <= 0 {
			continue
		}
		if err := s.client.Set(ctx, sessionKey(token), data, ttl).Err(); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	sess, err := s.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(token))
	pipe.SRem(ctx, userKey(sess.UserID), token)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteExpired is a no-op: Redis key TTLs already reap expired rows.
func (s *SessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
