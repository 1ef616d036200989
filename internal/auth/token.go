package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RevocationStore is the slice of the shared KV store the issuer needs for its blacklist
type RevocationStore interface {
	Key(parts ...string) string
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// TokenConfig holds the signing material and lifetimes for issued tokens
type TokenConfig struct {
	SigningKey    ed25519.PrivateKey
	KeyID         string
	Issuer        string
	Audience      string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Clock         func() time.Time // defaults to time.Now
}

// TokenIssuer signs, verifies, rotates and revokes Ed25519 JWT pairs.
// Revocation state lives in the shared store so every replica sees it.
type TokenIssuer struct {
	privateKey    ed25519.PrivateKey
	publicKey     ed25519.PublicKey
	keyID         string
	issuer        string
	audience      string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	store         RevocationStore
	now           func() time.Time
}

// NewTokenIssuer creates a TokenIssuer
func NewTokenIssuer(cfg TokenConfig, store RevocationStore) (*TokenIssuer, error) {
	if len(cfg.SigningKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	if cfg.AccessExpiry <= 0 || cfg.RefreshExpiry <= 0 {
		return nil, fmt.Errorf("token expiries must be positive")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &TokenIssuer{
		privateKey:    cfg.SigningKey,
		publicKey:     cfg.SigningKey.Public().(ed25519.PublicKey),
		keyID:         cfg.KeyID,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		store:         store,
		now:           now,
	}, nil
}

// RefreshExpiry returns the configured refresh token lifetime
func (ti *TokenIssuer) RefreshExpiry() time.Duration {
	return ti.refreshExpiry
}

func (ti *TokenIssuer) revokedKey(jti string) string {
	return ti.store.Key("revoked", jti)
}

// Issue mints a new access/refresh pair bound to the subject's device and session
func (ti *TokenIssuer) Issue(ctx context.Context, subject models.Subject) (*models.TokenPair, error) {
	if subject.UserID == "" || subject.SessionID == "" {
		return nil, fmt.Errorf("token subject requires user and session ids")
	}

	now := ti.now()

	access, _, err := ti.sign(subject, models.TokenKindAccess, now, ti.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh, refreshExp, err := ti.sign(subject, models.TokenKindRefresh, now, ti.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(ti.accessExpiry.Seconds()),
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (ti *TokenIssuer) sign(subject models.Subject, kind models.TokenKind, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)

	claims := &models.TokenClaims{
		Type:        kind,
		Role:        subject.Role.String(),
		Permissions: subject.Permissions,
		DeviceID:    subject.DeviceID,
		SessionID:   subject.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.UserID,
			Issuer:    ti.issuer,
			Audience:  jwt.ClaimStrings{ti.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if ti.keyID != "" {
		token.Header["kid"] = ti.keyID
	}

	signed, err := token.SignedString(ti.privateKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// parse checks signature, issuer and audience. Time-based claims are checked
// unless skipTime is set (revocation of an already-expired token is a no-op).
func (ti *TokenIssuer) parse(tokenString string, skipTime bool) (*models.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithAudience(ti.audience),
		jwt.WithTimeFunc(ti.now),
		jwt.WithExpirationRequired(),
	}
	if skipTime {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &models.TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return ti.publicKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTokenMalformed, err)
	}

	if claims.ID == "" || claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing required claims", models.ErrTokenMalformed)
	}
	if claims.Type != models.TokenKindAccess && claims.Type != models.TokenKindRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", models.ErrTokenMalformed, claims.Type)
	}

	return claims, nil
}

// Verify validates a token of the given kind and checks the blacklist
func (ti *TokenIssuer) Verify(ctx context.Context, tokenString string, kind models.TokenKind) (*models.TokenClaims, error) {
	claims, err := ti.parse(tokenString, false)
	if err != nil {
		return nil, err
	}

	if claims.Type != kind {
		return nil, fmt.Errorf("%w: expected %s token", models.ErrTokenMalformed, kind)
	}

	revoked, err := ti.store.Exists(ctx, ti.revokedKey(claims.ID))
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, models.ErrTokenRevoked
	}

	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. The presented jti is claimed
// with a single conditional write, so of two concurrent rotations only one wins.
func (ti *TokenIssuer) Rotate(ctx context.Context, refreshToken string) (*models.TokenPair, *models.TokenClaims, error) {
	claims, err := ti.Verify(ctx, refreshToken, models.TokenKindRefresh)
	if err != nil {
		return nil, nil, err
	}

	ttl := claims.Remaining(ti.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	claimed, err := ti.store.SetIfAbsent(ctx, ti.revokedKey(claims.ID), []byte("rotated"), ttl)
	if err != nil {
		return nil, nil, err
	}
	if !claimed {
		return nil, nil, models.ErrTokenRevoked
	}

	subject, err := subjectFromClaims(claims)
	if err != nil {
		return nil, nil, err
	}

	pair, err := ti.Issue(ctx, subject)
	if err != nil {
		return nil, nil, err
	}

	return pair, claims, nil
}

// Revoke blacklists a token for the rest of its lifetime.
// Expired tokens are ignored since they can no longer be used.
func (ti *TokenIssuer) Revoke(ctx context.Context, tokenString string) error {
	claims, err := ti.parse(tokenString, true)
	if err != nil {
		return err
	}
	return ti.RevokeClaims(ctx, claims)
}

// RevokeClaims blacklists an already-verified token
func (ti *TokenIssuer) RevokeClaims(ctx context.Context, claims *models.TokenClaims) error {
	ttl := claims.Remaining(ti.now())
	if ttl <= 0 {
		return nil
	}
	return ti.store.Set(ctx, ti.revokedKey(claims.ID), []byte("revoked"), ttl)
}

func subjectFromClaims(claims *models.TokenClaims) (models.Subject, error) {
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return models.Subject{}, fmt.Errorf("%w: %v", models.ErrTokenMalformed, err)
	}

	return models.Subject{
		UserID:      claims.Subject,
		Role:        role,
		Permissions: claims.Permissions,
		DeviceID:    claims.DeviceID,
		SessionID:   claims.SessionID,
	}, nil
}
