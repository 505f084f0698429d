package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims identify who is calling the monitor API.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// ClaimsFrom returns the claims RequireJWT attached to ctx.
func ClaimsFrom(ctx context.Context) (*OperatorClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*OperatorClaims)
	return c, ok
}

// AuthManager mints and verifies HS256 operator tokens.
type AuthManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthManager(secret, issuer string) *AuthManager {
	return &AuthManager{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Mint issues a token for subject valid for ttl.
func (a *AuthManager) Mint(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := a.now()
	claims := OperatorClaims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *AuthManager) Parse(tok string) (*OperatorClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &OperatorClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
