package identity

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/identra/identity/internal/obs"
)

const (
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 15 * time.Minute

	lockoutCacheSize = 16384
	lockoutStripes   = 64
)

// LockoutConfig controls the failure threshold and lockout window.
type LockoutConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

type lockoutState struct {
	failedCount int
	lockoutEnd  time.Time
}

func (s lockoutState) lockedAt(now time.Time) bool {
	return !s.lockoutEnd.IsZero() && s.lockoutEnd.After(now)
}

// LockoutTracker maintains per-user failure counters and lockout
// windows. Persisted user fields are the source of truth; an expiring
// in-memory cache sits in front of them for low-latency checks and is
// written through on every update. Counter updates for the same user
// serialize on a mutex stripe keyed by user id, so unrelated users do
// not contend.
//
// Writes that fail to persist are logged and swallowed: lockout
// tracking degrades rather than blocking a legitimate login. The cache
// still advances so the fast path keeps protecting; Reconcile heals
// the divergence from persisted truth.
type LockoutTracker struct {
	users UserStore
	cfg   LockoutConfig
	log   *slog.Logger
	now   func() time.Time

	cache   *expirable.LRU[string, lockoutState]
	stripes [lockoutStripes]sync.Mutex
}

// NewLockoutTracker applies defaults and returns a tracker.
func NewLockoutTracker(users UserStore, cfg LockoutConfig, log *slog.Logger) *LockoutTracker {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = defaultMaxFailedAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaultLockoutDuration
	}
	if log == nil {
		log = obs.Logger()
	}
	return &LockoutTracker{
		users: users,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		cache: expirable.NewLRU[string, lockoutState](lockoutCacheSize, nil, cfg.LockoutDuration),
	}
}

func (t *LockoutTracker) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &t.stripes[h.Sum32()%lockoutStripes]
}

// RecordFailure increments the failure counter and reports whether this
// call caused the transition into the locked state. No-op when the
// user does not exist or has lockout disabled.
func (t *LockoutTracker) RecordFailure(ctx context.Context, userID string) bool {
	mu := t.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	user, err := t.users.Find(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.swallow(ctx, "lockout failure read", userID, err)
		}
		return false
	}
	if !user.LockoutEnabled {
		return false
	}

	state, cached := t.cache.Get(userID)
	if !cached {
		state = lockoutState{failedCount: user.FailedAccessCount, lockoutEnd: user.LockoutEnd}
	}

	now := t.now()
	state.failedCount++
	lockedNow := false
	if state.failedCount >= t.cfg.MaxFailedAttempts && !state.lockedAt(now) {
		state.lockoutEnd = now.Add(t.cfg.LockoutDuration)
		lockedNow = true
	}

	if err := t.users.UpdateLockout(ctx, userID, state.failedCount, state.lockoutEnd); err != nil {
		t.swallow(ctx, "lockout failure write", userID, err)
	}
	t.cache.Add(userID, state)

	if lockedNow {
		obs.LockoutTransitions.Inc()
		t.log.LogAttrs(ctx, slog.LevelWarn, "account locked",
			slog.String("user_id", userID),
			slog.Int("failed_count", state.failedCount),
			slog.Time("lockout_end", state.lockoutEnd))
	}
	return lockedNow
}

// RecordSuccess resets the counter and clears the lockout end.
// Idempotent.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, userID string) {
	mu := t.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := t.users.UpdateLockout(ctx, userID, 0, time.Time{}); err != nil {
		t.swallow(ctx, "lockout reset write", userID, err)
	}
	t.cache.Add(userID, lockoutState{})
}

// Unlock is the administrative override; same effect as RecordSuccess.
func (t *LockoutTracker) Unlock(ctx context.Context, userID string) {
	t.RecordSuccess(ctx, userID)
}

// IsLockedOut reports whether a lockout window is still open. The wall
// clock is re-checked on every call, so an elapsed window reads as
// unlocked without any background sweep. A failed read of persisted
// state is a hard error: the result gates authentication.
func (t *LockoutTracker) IsLockedOut(ctx context.Context, userID string) (bool, error) {
	state, err := t.load(ctx, userID)
	if err != nil {
		return false, err
	}
	return state.lockedAt(t.now()), nil
}

// RemainingLockoutSeconds returns 0 when not locked out, else the
// remaining wait rounded up to whole seconds.
func (t *LockoutTracker) RemainingLockoutSeconds(ctx context.Context, userID string) (int, error) {
	state, err := t.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := t.now()
	if !state.lockedAt(now) {
		return 0, nil
	}
	return int(math.Ceil(state.lockoutEnd.Sub(now).Seconds())), nil
}

// Reconcile replaces every cached entry with persisted truth. Run
// periodically so a swallowed write cannot diverge the two stores
// permanently.
func (t *LockoutTracker) Reconcile(ctx context.Context) error {
	for _, userID := range t.cache.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		user, err := t.users.Find(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				t.cache.Remove(userID)
				continue
			}
			return fmt.Errorf("reconcile %s: %w", userID, err)
		}

		mu := t.stripe(userID)
		mu.Lock()
		t.cache.Add(userID, lockoutState{failedCount: user.FailedAccessCount, lockoutEnd: user.LockoutEnd})
		mu.Unlock()
	}
	return nil
}

func (t *LockoutTracker) load(ctx context.Context, userID string) (lockoutState, error) {
	if state, ok := t.cache.Get(userID); ok {
		return state, nil
	}
	user, err := t.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return lockoutState{}, nil
		}
		return lockoutState{}, fmt.Errorf("%w: read lockout state: %v", ErrStorage, err)
	}
	state := lockoutState{failedCount: user.FailedAccessCount, lockoutEnd: user.LockoutEnd}
	t.cache.Add(userID, state)
	return state, nil
}

func (t *LockoutTracker) swallow(ctx context.Context, op, userID string, err error) {
	obs.LockoutStoreFailures.Inc()
	t.log.LogAttrs(ctx, slog.LevelError, "lockout store failure",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("error", err.Error()))
}
