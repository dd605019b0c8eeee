// Package auth verifies and issues HS256 bearer tokens for the API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoSecret     = errors.New("auth secret is empty")
)

// Claims are the claims carried by an API token.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWT validates and issues tokens signed with a shared secret.
type JWT struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWT creates a token validator. Tokens must carry issuer when it is set.
func NewJWT(secret, issuer string) (*JWT, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &JWT{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// ValidateToken implements httputil.TokenValidator.
func (j *JWT) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.Role.IsValid() {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRole, claims.Role)
	}
	return claims.Subject, claims.Role, nil
}

// Issue signs a token for subject with role, valid for ttl.
func (j *JWT) Issue(subject string, role domain.Role, ttl time.Duration) (string, error) {
	if !role.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	now := j.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
