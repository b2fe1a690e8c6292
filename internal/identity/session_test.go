package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSessionStore struct {
	mu            sync.Mutex
	byToken       map[string]*Session
	deactivateErr error
	createErr     error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{byToken: map[string]*Session{}}
}

func (s *fakeSessionStore) session(token string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

func (s *fakeSessionStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	clone := *sess
	s.byToken[sess.Token] = &clone
	return nil
}

func (s *fakeSessionStore) FindByToken(ctx context.Context, token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

func (s *fakeSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.byToken {
		if sess.ID == id {
			sess.LastActivity = at
			return nil
		}
	}
	return ErrNotFound
}

func (s *fakeSessionStore) DeactivateForUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deactivateErr != nil {
		return 0, s.deactivateErr
	}
	var n int64
	for _, sess := range s.byToken {
		if sess.UserID == userID && sess.Active {
			sess.Active = false
			n++
		}
	}
	return n, nil
}

func (s *fakeSessionStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[token]; !ok {
		return ErrNotFound
	}
	delete(s.byToken, token)
	return nil
}

func (s *fakeSessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, sess := range s.byToken {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.byToken, token)
			n++
		}
	}
	return n, nil
}

func newTestCoordinator(store *fakeSessionStore, ttl time.Duration) *SessionCoordinator {
	return NewSessionCoordinator(store, SessionConfig{RefreshTTL: ttl}, nil)
}

func TestSessionIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	coord := newTestCoordinator(store, time.Hour)

	session, err := coord.Issue(ctx, "u1", ClientMeta{RemoteAddr: "10.0.0.1", UserAgent: "cli"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if session.Token == "" || session.ID == "" {
		t.Fatalf("incomplete session %+v", session)
	}
	if !session.Active {
		t.Fatal("issued session not active")
	}
	if session.RemoteAddr != "10.0.0.1" || session.UserAgent != "cli" {
		t.Errorf("client meta = %q/%q", session.RemoteAddr, session.UserAgent)
	}

	userID, err := coord.Validate(ctx, session.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("userID = %q, want u1", userID)
	}
}

func TestSessionTokensAreUnique(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	coord := newTestCoordinator(store, time.Hour)

	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		session, err := coord.Issue(ctx, "u1", ClientMeta{})
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, dup := seen[session.Token]; dup {
			t.Fatal("duplicate refresh token")
		}
		seen[session.Token] = struct{}{}
	}
}

func TestSessionIssueDeactivatesPrior(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	coord := newTestCoordinator(store, time.Hour)

	first, err := coord.Issue(ctx, "u1", ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := coord.Issue(ctx, "u1", ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if got, _ := store.session(first.Token); got.Active {
		t.Fatal("prior session still active")
	}
	if _, err := coord.Validate(ctx, first.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("prior token error = %v, want ErrInvalidToken", err)
	}
	if _, err := coord.Validate(ctx, second.Token); err != nil {
		t.Fatalf("current token: %v", err)
	}
}

func TestSessionIssueSurvivesDeactivateFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	store.deactivateErr = errors.New("replica down")
	coord := newTestCoordinator(store, time.Hour)

	session, err := coord.Issue(ctx, "u1", ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := coord.Validate(ctx, session.Token); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSessionRotate(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	coord := newTestCoordinator(store, time.Hour)

	original, err := coord.Issue(ctx, "u1", ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	replacement, err := coord.Rotate(ctx, original.Token, ClientMeta{})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if replacement.Token == original.Token {
		t.Fatal("rotation reused the token")
	}
	if replacement.UserID != "u1" {
		t.Fatalf("rotated session user = %q", replacement.UserID)
	}
	if _, err := coord.Validate(ctx, original.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("rotated-away token error = %v, want ErrInvalidToken", err)
	}
	if _, err := coord.Validate(ctx, replacement.Token); err != nil {
		t.Fatalf("replacement token: %v", err)
	}

	// The old token stays dead; rotating it again fails.
	if _, err := coord.Rotate(ctx, original.Token, ClientMeta{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("double rotation error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionInvalidateIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	coord := newTestCoordinator(store, time.Hour)

	session, err := coord.Issue(ctx, "u1", ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := coord.Invalidate(ctx, session.Token); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := coord.Validate(ctx, session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("invalidated token error = %v, want ErrInvalidToken", err)
	}
	if err := coord.Invalidate(ctx, session.Token); err != nil {
		t.Fatalf("second Invalidate: %v", err)
	}
	if err := coord.Invalidate(ctx, "never-existed"); err != nil {
		t.Fatalf("Invalidate unknown: %v", err)
	}
}

func TestSessionValidateExpired(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	coord := newTestCoordinator(store, time.Minute)

	base := time.Now()
	coord.now = func() time.Time { return base }

	session, err := coord.Issue(ctx, "u1", ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	coord.now = func() time.Time { return base.Add(2 * time.Minute) }

	if _, err := coord.Validate(ctx, session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionValidateGarbage(t *testing.T) {
	ctx := context.Background()
	coord := newTestCoordinator(newFakeSessionStore(), time.Hour)

	for _, token := range []string{"", "nope", "AAAA"} {
		if _, err := coord.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Validate(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestSessionPurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	coord := newTestCoordinator(store, time.Minute)

	base := time.Now()
	coord.now = func() time.Time { return base }
	if _, err := coord.Issue(ctx, "u1", ClientMeta{}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := coord.Issue(ctx, "u2", ClientMeta{}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	coord.now = func() time.Time { return base.Add(2 * time.Minute) }
	purged, err := coord.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}
}
