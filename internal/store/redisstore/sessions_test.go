package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identra/identity/internal/identity"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := New(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func testSession(userID, token string, ttl time.Duration) *identity.Session {
	now := time.Now()
	return &identity.Session{
		UserID:       userID,
		Token:        token,
		ExpiresAt:    now.Add(ttl),
		Active:       true,
		LastActivity: now,
		RemoteAddr:   "10.0.0.1",
		UserAgent:    "cli",
		CreatedAt:    now,
	}
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sess := testSession("u1", "tok-1", time.Hour)
	require.NoError(t, store.Create(ctx, sess))
	assert.NotEmpty(t, sess.ID, "id assigned on create")

	found, err := store.FindByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.UserID)
	assert.Equal(t, sess.ID, found.ID)
	assert.True(t, found.Active)
	assert.Equal(t, "cli", found.UserAgent)
}

func TestFindMissing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.FindByToken(ctx, "never-stored")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestCreateAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sess := testSession("u1", "tok-1", -time.Minute)
	err := store.Create(ctx, sess)
	assert.ErrorIs(t, err, identity.ErrInvalidInput)
}

func TestDeactivateForUser(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Create(ctx, testSession("u1", "tok-1", time.Hour)))
	require.NoError(t, store.Create(ctx, testSession("u1", "tok-2", time.Hour)))
	require.NoError(t, store.Create(ctx, testSession("u2", "tok-other", time.Hour)))

	n, err := store.DeactivateForUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, token := range []string{"tok-1", "tok-2"} {
		sess, err := store.FindByToken(ctx, token)
		require.NoError(t, err)
		assert.False(t, sess.Active, token)
	}

	other, err := store.FindByToken(ctx, "tok-other")
	require.NoError(t, err)
	assert.True(t, other.Active, "other user untouched")

	// Second pass finds nothing active.
	n, err = store.DeactivateForUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestDeactivateForUnknownUser(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	n, err := store.DeactivateForUser(ctx, "ghost")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	require.NoError(t, store.Create(ctx, testSession("u1", "tok-1", time.Hour)))
	require.NoError(t, store.Delete(ctx, "tok-1"))

	_, err := store.FindByToken(ctx, "tok-1")
	assert.ErrorIs(t, err, identity.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "tok-1"), identity.ErrNotFound)

	// The per-user index is cleaned up too.
	members, _ := mr.SMembers(userKey("u1"))
	assert.Empty(t, members)
}

func TestTTLReapsSessions(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	require.NoError(t, store.Create(ctx, testSession("u1", "tok-1", time.Minute)))

	mr.FastForward(2 * time.Minute)

	_, err := store.FindByToken(ctx, "tok-1")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestDeactivateSkipsReapedTokens(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	require.NoError(t, store.Create(ctx, testSession("u1", "tok-short", time.Minute)))
	require.NoError(t, store.Create(ctx, testSession("u1", "tok-long", time.Hour)))

	mr.FastForward(2 * time.Minute)

	n, err := store.DeactivateForUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "only the surviving session flips")
}
