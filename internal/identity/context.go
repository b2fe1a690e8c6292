package identity

import (
	"context"
	"strings"
)

type ctxKey string

const (
	claimsKey ctxKey = "identity_claims"
	tokenKey  ctxKey = "identity_token"
)

// ContextWithClaims stores verified access claims in the context.
func ContextWithClaims(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext extracts the authenticated claims, if present.
func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*AccessClaims)
	if !ok || claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return nil, false
	}
	return claims, true
}

// ContextWithToken stores the raw bearer token in the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the raw bearer token, if present.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
