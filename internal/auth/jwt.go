package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretKeyLength is the minimum length for HMAC-SHA256 secrets.
const MinSecretKeyLength = 32

// ErrSecretKeyTooShort indicates the secret key is shorter than MinSecretKeyLength.
var ErrSecretKeyTooShort = errors.New("secret key must be at least 32 bytes for HMAC-SHA256")

// CallerIdentity is the authenticated principal for one session.
// Established once at session start and immutable thereafter.
type CallerIdentity struct {
	Subject string
	Role    string
	TokenID string
}

// DevIdentity is the synthetic admin identity used when no JWT secret is
// configured. Startup must refuse this fallback whenever the secret env
// var is configured.
func DevIdentity() CallerIdentity {
	return CallerIdentity{Subject: "admin", Role: "admin"}
}

// Claims are the JWT claims the gateway requires: the registered set plus
// a role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 session tokens.
type Validator struct {
	secret        []byte
	parserOptions []jwt.ParserOption
}

// NewValidator builds a validator for the given secret, issuer, and
// audience. The secret must be at least MinSecretKeyLength bytes.
func NewValidator(secret []byte, issuer, audience string) (*Validator, error) {
	if len(secret) < MinSecretKeyLength {
		return nil, ErrSecretKeyTooShort
	}
	return &Validator{
		secret: secret,
		parserOptions: []jwt.ParserOption{
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		},
	}, nil
}

// Validate parses and verifies a token and returns the caller identity.
func (v *Validator) Validate(tokenString string) (CallerIdentity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, v.parserOptions...)
	if err != nil {
		return CallerIdentity{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return CallerIdentity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return CallerIdentity{}, errors.New("invalid claims: missing subject")
	}
	if claims.Role == "" {
		return CallerIdentity{}, errors.New("invalid claims: missing role")
	}
	return CallerIdentity{
		Subject: claims.Subject,
		Role:    claims.Role,
		TokenID: claims.ID,
	}, nil
}

// NewToken mints a signed session token. Used by the token subcommand and
// by tests.
func NewToken(subject, role string, secret []byte, issuer, audience string, ttl time.Duration) (string, error) {
	if len(secret) < MinSecretKeyLength {
		return "", ErrSecretKeyTooShort
	}
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
