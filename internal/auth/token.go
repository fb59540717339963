package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims of a backend-issued access token. The agent
// never verifies the signature (it does not hold the server secret); it only
// reads expiry so it can warn before requests start failing with 401.
type SessionClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseSessionToken decodes an access token without verifying it.
func ParseSessionToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	return claims, nil
}

// ExpiresWithin reports whether the token expires before now+d. Tokens with
// no expiry claim never expire.
func (c *SessionClaims) ExpiresWithin(d time.Duration, now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Time.Before(now.Add(d))
}
