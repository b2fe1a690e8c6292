package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/identra/identity/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth requires a valid bearer access token and stores its claims
// in the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.svc.DecodeToken(token, true)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := identity.ContextWithClaims(r.Context(), claims)
		ctx = identity.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requirePermission(ctx context.Context, perm string) error {
	claims, ok := identity.ClaimsFromContext(ctx)
	if !ok {
		return identity.ErrUnauthorized
	}
	if !claims.HasPermission(perm) {
		return identity.ErrUnauthorized
	}
	return nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
