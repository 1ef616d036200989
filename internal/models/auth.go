package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind distinguishes access tokens from refresh tokens
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims is the JWT payload for both token kinds.
// Subject carries the account id and ID carries the jti.
type TokenClaims struct {
	Type        TokenKind `json:"typ"`
	Role        string    `json:"role"`
	Permissions []string  `json:"perms,omitempty"`
	DeviceID    string    `json:"did,omitempty"`
	SessionID   string    `json:"sid"`
	jwt.RegisteredClaims
}

// UserID returns the account id the token was issued to
func (c *TokenClaims) UserID() string {
	return c.Subject
}

// Remaining returns how long the token stays valid after now (0 if expired or no expiry)
func (c *TokenClaims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	if d := c.ExpiresAt.Time.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Subject is what a token pair is bound to
type Subject struct {
	UserID      string
	Role        Role
	Permissions []string
	DeviceID    string
	SessionID   string
}

// SubjectFromAccount binds an account to a device and session
func SubjectFromAccount(a *Account, deviceID, sessionID string) Subject {
	return Subject{
		UserID:      a.ID,
		Role:        a.Role,
		Permissions: a.Permissions,
		DeviceID:    deviceID,
		SessionID:   sessionID,
	}
}

// TokenPair is returned on successful authentication or refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds until the access token expires

	RefreshExpiresAt time.Time `json:"-"`
}
