package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultAccessTTL = 60 * time.Minute

// reserved claim keys that caller-supplied extras may not override.
var reservedClaims = map[string]struct{}{
	"sub": {}, "iss": {}, "aud": {}, "exp": {}, "iat": {}, "jti": {},
	"username": {}, "email": {}, "roles": {}, "permissions": {}, "sst": {},
}

// TokenConfig holds the symmetric signing material and claim constants.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
}

// AccessClaims are the verified claims of an access token.
type AccessClaims struct {
	Username      string   `json:"username,omitempty"`
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	SecurityStamp string   `json:"sst,omitempty"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the token carries the permission claim.
func (c *AccessClaims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// HasRole reports whether the token carries the role claim.
func (c *AccessClaims) HasRole(name string) bool {
	for _, r := range c.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// TokenIssuer mints and verifies HS256 access tokens. Issuance and
// validation are pure; the issuer holds no mutable state.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenIssuer validates the configuration and returns an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("identity: signing key is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("identity: token issuer is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}, nil
}

// Issue signs an access token for the user carrying role and permission
// claims plus any caller-supplied extras. A non-positive ttl falls back
// to the configured default.
func (i *TokenIssuer) Issue(user *User, roles, permissions []string, extra map[string]any, ttl time.Duration) (string, time.Time, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, errors.New("identity: user is required")
	}
	if ttl <= 0 {
		ttl = i.cfg.AccessTTL
	}
	now := i.now().UTC()
	exp := now.Add(ttl)

	claims := jwt.MapClaims{
		"sub":         user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"iss":         i.cfg.Issuer,
		"iat":         jwt.NewNumericDate(now),
		"exp":         jwt.NewNumericDate(exp),
		"jti":         uuid.NewString(),
		"roles":       dedupeNames(roles),
		"permissions": dedupeNames(permissions),
	}
	if i.cfg.Audience != "" {
		claims["aud"] = i.cfg.Audience
	}
	if user.SecurityStamp != "" {
		claims["sst"] = user.SecurityStamp
	}
	for k, v := range extra {
		if _, taken := reservedClaims[k]; taken {
			continue
		}
		claims[k] = v
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Decode verifies the signature, algorithm, issuer and audience and
// returns the claims. With enforceExpiry false an expired token still
// decodes so refresh flows can read its subject; signature and claim
// constants are checked either way. Every failure maps to
// ErrInvalidToken.
func (i *TokenIssuer) Decode(token string, enforceExpiry bool) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	}
	if enforceExpiry {
		opts = append(opts, jwt.WithExpirationRequired(), jwt.WithIssuer(i.cfg.Issuer))
		if i.cfg.Audience != "" {
			opts = append(opts, jwt.WithAudience(i.cfg.Audience))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := i.checkClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IsValid is a convenience wrapper around Decode.
func (i *TokenIssuer) IsValid(token string, enforceExpiry bool) bool {
	_, err := i.Decode(token, enforceExpiry)
	return err == nil
}

// checkClaims covers the constants that WithoutClaimsValidation skips.
func (i *TokenIssuer) checkClaims(claims *AccessClaims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.Issuer != i.cfg.Issuer {
		return errors.New("unexpected issuer")
	}
	if i.cfg.Audience != "" {
		found := false
		for _, aud := range claims.Audience {
			if aud == i.cfg.Audience {
				found = true
				break
			}
		}
		if !found {
			return errors.New("unexpected audience")
		}
	}
	return nil
}

func dedupeNames(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
