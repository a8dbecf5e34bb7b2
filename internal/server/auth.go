package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrAuthFailed = errors.New("authentication failed")

// Claims accepts either the registered subject or a user_id claim.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies the optional HS256 token sent with auth. With no
// secret configured every declared user id is trusted.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(strings.TrimSpace(secret))}
}

func (a *Authenticator) Enabled() bool { return a != nil && len(a.secret) > 0 }

func (a *Authenticator) Verify(userID, token string) error {
	if !a.Enabled() {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing token", ErrAuthFailed)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return fmt.Errorf("%w: invalid token", ErrAuthFailed)
	}
	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	if subject != userID {
		return fmt.Errorf("%w: token subject does not match user", ErrAuthFailed)
	}
	return nil
}

// Issue signs a token for userID. Used by the probe client and tests.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
