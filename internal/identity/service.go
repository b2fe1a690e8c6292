package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/identra/identity/internal/obs"
)

// ChallengeVerifier is the CAPTCHA collaborator: it checks a challenge
// proof before credential verification runs. Challenge generation lives
// outside this core.
type ChallengeVerifier interface {
	Verify(ctx context.Context, proof string) error
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Roles            []string
	Permissions      []string
}

// Service composes the lockout tracker, credential verifier, RBAC
// resolver, token issuer and session coordinator into the login,
// refresh and logout flows. Order on login is fixed: lockout pre-check,
// credential check, lockout update, authorization resolution, token
// issuance.
type Service struct {
	store    Store
	lockout  *LockoutTracker
	resolver *Resolver
	tokens   *TokenIssuer
	sessions *SessionCoordinator
	captcha  ChallengeVerifier
	log      *slog.Logger
	now      func() time.Time
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithChallengeVerifier wires the CAPTCHA collaborator used by
// LoginWithChallenge.
func WithChallengeVerifier(v ChallengeVerifier) ServiceOption {
	return func(s *Service) { s.captcha = v }
}

// WithLogger overrides the shared logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the engine together.
func NewService(store Store, lockout *LockoutTracker, resolver *Resolver, tokens *TokenIssuer, sessions *SessionCoordinator, opts ...ServiceOption) (*Service, error) {
	if store == nil || lockout == nil || resolver == nil || tokens == nil || sessions == nil {
		return nil, errors.New("identity: all core collaborators are required")
	}
	svc := &Service{
		store:    store,
		lockout:  lockout,
		resolver: resolver,
		tokens:   tokens,
		sessions: sessions,
		log:      obs.Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Login authenticates the credentials and issues an access/refresh
// pair. Absent users, wrong passwords and non-active statuses all
// answer ErrInvalidCredentials so callers cannot enumerate accounts;
// only an already-open lockout window is distinguished, with its
// remaining seconds.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string, meta ClientMeta) (*TokenPair, error) {
	usernameOrEmail = strings.TrimSpace(usernameOrEmail)
	if usernameOrEmail == "" || password == "" {
		obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.Users().FindByLogin(ctx, usernameOrEmail)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: find user: %v", ErrStorage, err)
	}
	if user.Status != StatusActive {
		obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	locked, err := s.lockout.IsLockedOut(ctx, user.ID)
	if err != nil {
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return nil, err
	}
	if locked {
		remaining, err := s.lockout.RemainingLockoutSeconds(ctx, user.ID)
		if err != nil {
			obs.LoginAttempts.WithLabelValues("error").Inc()
			return nil, err
		}
		obs.LoginAttempts.WithLabelValues("locked_out").Inc()
		return nil, &LockedOutError{RemainingSeconds: remaining}
	}

	if !VerifyPassword(user.PasswordHash, password) {
		// The attempt that trips the threshold still answers invalid
		// credentials; the lockout is observed on the next attempt.
		lockedNow := s.lockout.RecordFailure(ctx, user.ID)
		s.log.LogAttrs(ctx, slog.LevelInfo, "login failed",
			slog.String("user_id", user.ID),
			slog.Bool("locked_now", lockedNow))
		obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	s.lockout.RecordSuccess(ctx, user.ID)
	pair, err := s.issuePair(ctx, user, meta)
	if err != nil {
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return nil, err
	}
	obs.LoginAttempts.WithLabelValues("success").Inc()
	s.log.LogAttrs(ctx, slog.LevelInfo, "login succeeded", slog.String("user_id", user.ID))
	return pair, nil
}

// LoginWithChallenge verifies the CAPTCHA proof with the collaborator
// before any credential check runs, then proceeds as Login.
func (s *Service) LoginWithChallenge(ctx context.Context, usernameOrEmail, password, proof string, meta ClientMeta) (*TokenPair, error) {
	if s.captcha == nil {
		return nil, errors.New("identity: challenge verifier not configured")
	}
	if err := s.captcha.Verify(ctx, proof); err != nil {
		obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	return s.Login(ctx, usernameOrEmail, password, meta)
}

// Refresh rotates a refresh token into a fresh pair. Lockout is
// re-checked and authorization re-resolved: a user locked or demoted
// after the original login does not keep old capabilities.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*TokenPair, error) {
	userID, err := s.sessions.Validate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: find user: %v", ErrStorage, err)
	}
	if user.Status != StatusActive {
		return nil, ErrInvalidToken
	}

	locked, err := s.lockout.IsLockedOut(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		remaining, err := s.lockout.RemainingLockoutSeconds(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return nil, &LockedOutError{RemainingSeconds: remaining}
	}

	session, err := s.sessions.Rotate(ctx, refreshToken, meta)
	if err != nil {
		return nil, err
	}
	roles, permissions, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access, accessExp, err := s.tokens.Issue(user, roles, permissions, nil, 0)
	if err != nil {
		return nil, err
	}
	obs.TokensIssued.WithLabelValues("access").Inc()
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     session.Token,
		RefreshExpiresAt: session.ExpiresAt,
		Roles:            roles,
		Permissions:      permissions,
	}, nil
}

// Logout invalidates the refresh token. Idempotent when the token is
// already invalid.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Invalidate(ctx, refreshToken)
}

// Authorize decodes the access token with expiry enforced and reports
// whether it carries the required permission claim. Invalid tokens are
// simply not authorized.
func (s *Service) Authorize(ctx context.Context, accessToken, requiredPermission string) bool {
	claims, err := s.tokens.Decode(accessToken, true)
	if err != nil {
		return false
	}
	return claims.HasPermission(requiredPermission)
}

// AuthorizeRoute checks the role-route grant path: any of the caller's
// active roles holding an active grant on the route authorizes it.
func (s *Service) AuthorizeRoute(ctx context.Context, accessToken, routeID string) (bool, error) {
	claims, err := s.tokens.Decode(accessToken, true)
	if err != nil {
		return false, nil
	}
	roleIDs, err := s.resolver.ActiveRoleIDs(ctx, claims.Subject)
	if err != nil {
		return false, err
	}
	for _, roleID := range roleIDs {
		ok, err := s.resolver.RouteAccess(ctx, routeID, roleID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// AuthorizeModule is AuthorizeRoute's counterpart for module nodes.
func (s *Service) AuthorizeModule(ctx context.Context, accessToken, moduleID string) (bool, error) {
	claims, err := s.tokens.Decode(accessToken, true)
	if err != nil {
		return false, nil
	}
	roleIDs, err := s.resolver.ActiveRoleIDs(ctx, claims.Subject)
	if err != nil {
		return false, err
	}
	for _, roleID := range roleIDs {
		ok, err := s.resolver.ModuleAccess(ctx, moduleID, roleID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// DecodeToken exposes token decoding to transport layers. Refresh-style
// callers pass enforceExpiry false to read subjects out of expired
// tokens.
func (s *Service) DecodeToken(token string, enforceExpiry bool) (*AccessClaims, error) {
	return s.tokens.Decode(token, enforceExpiry)
}

// Unlock is the administrative lockout override.
func (s *Service) Unlock(ctx context.Context, userID string) {
	s.lockout.Unlock(ctx, userID)
	s.log.LogAttrs(ctx, slog.LevelInfo, "account unlocked", slog.String("user_id", userID))
}

// ChangePassword verifies the current password, stores a new hash and
// rotates the security stamp. Outstanding sessions are deactivated so
// stale refresh lineages die with the old password.
func (s *Service) ChangePassword(ctx context.Context, userID, current, replacement string) error {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: find user: %v", ErrStorage, err)
	}
	if !VerifyPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(replacement)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user.PasswordHash = hash
	user.SecurityStamp = uuid.NewString()
	user.ConcurrencyStamp = uuid.NewString()
	user.UpdatedAt = s.now().UTC()
	if err := s.store.Users().Update(ctx, user); err != nil {
		return fmt.Errorf("%w: update user: %v", ErrStorage, err)
	}
	if _, err := s.store.Sessions().DeactivateForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: deactivate sessions: %v", ErrStorage, err)
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "password changed", slog.String("user_id", userID))
	return nil
}

func (s *Service) issuePair(ctx context.Context, user *User, meta ClientMeta) (*TokenPair, error) {
	roles, permissions, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access, accessExp, err := s.tokens.Issue(user, roles, permissions, nil, 0)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.Issue(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}
	obs.TokensIssued.WithLabelValues("access").Inc()
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     session.Token,
		RefreshExpiresAt: session.ExpiresAt,
		Roles:            roles,
		Permissions:      permissions,
	}, nil
}
