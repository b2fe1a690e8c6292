// Package janitor runs the periodic maintenance the engine relies on:
// purging expired session rows and re-reading persisted lockout truth
// into the in-memory cache so a swallowed write cannot diverge the two
// stores permanently.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/obs"
)

const (
	purgeSchedule     = "@every 10m"
	reconcileSchedule = "@every 1m"
	jobTimeout        = 30 * time.Second
)

type Janitor struct {
	cron     *cron.Cron
	sessions *identity.SessionCoordinator
	lockout  *identity.LockoutTracker
	log      *slog.Logger
}

func New(sessions *identity.SessionCoordinator, lockout *identity.LockoutTracker, log *slog.Logger) *Janitor {
	if log == nil {
		log = obs.Logger()
	}
	return &Janitor{
		cron:     cron.New(),
		sessions: sessions,
		lockout:  lockout,
		log:      log,
	}
}

// Start registers the jobs and launches the scheduler.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(purgeSchedule, j.purgeSessions); err != nil {
		return err
	}
	if _, err := j.cron.AddFunc(reconcileSchedule, j.reconcileLockouts); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) purgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.sessions.PurgeExpired(ctx)
	if err != nil {
		j.log.LogAttrs(ctx, slog.LevelError, "session purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		j.log.LogAttrs(ctx, slog.LevelInfo, "purged expired sessions", slog.Int64("count", n))
	}
}

func (j *Janitor) reconcileLockouts() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := j.lockout.Reconcile(ctx); err != nil {
		j.log.LogAttrs(ctx, slog.LevelError, "lockout reconcile failed", slog.String("error", err.Error()))
	}
}
