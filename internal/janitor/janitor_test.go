package janitor

import (
	"testing"
	"time"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/identity/identitytest"
)

func TestStartAndStop(t *testing.T) {
	store := identitytest.New()
	sessions := identity.NewSessionCoordinator(store.Sessions(), identity.SessionConfig{
		RefreshTTL: time.Hour,
	}, nil)
	lockout := identity.NewLockoutTracker(store.Users(), identity.LockoutConfig{}, nil)

	jan := New(sessions, lockout, nil)
	if err := jan.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	jan.Stop()
}
