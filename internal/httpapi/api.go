package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/obs"
)

const serviceName = "identity-api"

// ReadyProbe checks backing stores for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
	// Extra covers non-SQL backends (e.g. the Redis session store).
	Extra func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Extra != nil {
		return rp.Extra(ctx)
	}
	return nil
}

// API is the thin HTTP surface over the identity engine.
type API struct {
	router   *mux.Router
	svc      *identity.Service
	probe    ReadyProbe
	throttle *loginThrottle
	version  string
}

func New(svc *identity.Service, probe ReadyProbe, throttle ThrottleConfig, version string) *API {
	a := &API{
		router:   mux.NewRouter(),
		svc:      svc,
		probe:    probe,
		throttle: newLoginThrottle(throttle),
		version:  version,
	}

	a.router.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	a.router.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	a.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	// The public auth routes are registered directly so the protected
	// /v1 subrouter below still sees the rest of the /v1/auth space.
	throttled := a.throttle.middleware
	a.router.Handle("/v1/auth/login", throttled(http.HandlerFunc(a.login))).Methods(http.MethodPost)
	a.router.Handle("/v1/auth/login/challenge", throttled(http.HandlerFunc(a.loginWithChallenge))).Methods(http.MethodPost)
	a.router.Handle("/v1/auth/refresh", throttled(http.HandlerFunc(a.refresh))).Methods(http.MethodPost)

	protected := a.router.PathPrefix("/v1").Subrouter()
	protected.Use(a.withAuth)
	protected.HandleFunc("/auth/logout", a.logout).Methods(http.MethodPost)
	protected.HandleFunc("/auth/authorize", a.authorize).Methods(http.MethodGet)
	protected.HandleFunc("/admin/unlock", a.unlock).Methods(http.MethodPost)
	protected.HandleFunc("/account/password", a.changePassword).Methods(http.MethodPost)

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

type loginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	ChallengeProof string `json:"challenge_proof,omitempty"`
}

type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Roles            []string  `json:"roles"`
	Permissions      []string  `json:"permissions"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := a.svc.Login(r.Context(), req.Username, req.Password, clientMeta(r))
	if err != nil {
		respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *API) loginWithChallenge(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := a.svc.LoginWithChallenge(r.Context(), req.Username, req.Password, req.ChallengeProof, clientMeta(r))
	if err != nil {
		respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// authorize answers both enforcement paths: ?permission= checks the
// token's permission claims, ?route= / ?module= walks the role-route
// grant graph.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) {
	token, ok := identity.TokenFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	q := r.URL.Query()
	var (
		allowed bool
		err     error
	)
	switch {
	case q.Get("permission") != "":
		allowed = a.svc.Authorize(r.Context(), token, q.Get("permission"))
	case q.Get("route") != "":
		allowed, err = a.svc.AuthorizeRoute(r.Context(), token, q.Get("route"))
	case q.Get("module") != "":
		allowed, err = a.svc.AuthorizeModule(r.Context(), token, q.Get("module"))
	default:
		respondError(w, http.StatusBadRequest, "permission, route or module query parameter required")
		return
	}
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "authorization check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

type unlockRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) unlock(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), "Users.Unlock"); err != nil {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	a.svc.Unlock(r.Context(), req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := identity.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.svc.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func toTokenResponse(pair *identity.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Roles:            pair.Roles,
		Permissions:      pair.Permissions,
	}
}

func clientMeta(r *http.Request) identity.ClientMeta {
	return identity.ClientMeta{
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
}

// respondAuthError maps engine errors onto the uniform wire taxonomy.
// Lockout is the only failure that reveals detail (remaining seconds).
func respondAuthError(w http.ResponseWriter, err error) {
	var locked *identity.LockedOutError
	switch {
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":               "account locked",
			"retry_after_seconds": locked.RemainingSeconds,
		})
	case errors.Is(err, identity.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, identity.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, identity.ErrStorage):
		respondError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
