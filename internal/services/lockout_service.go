package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/kvstore"
)

// LockoutAction names a throttled operation. Each action has its own rule.
type LockoutAction string

const (
	ActionLogin         LockoutAction = "login"
	ActionMFA           LockoutAction = "mfa"
	ActionPasswordReset LockoutAction = "password_reset"
)

// LockoutDecision is the outcome of one gated attempt
type LockoutDecision struct {
	Allowed    bool
	Attempts   int64
	RetryAfter time.Duration // zero when allowed
}

// LockoutService counts attempts per (action, identifier) in the shared store.
// Counters are visible to every instance, and a store failure is returned to
// the caller instead of being treated as allowed.
type LockoutService struct {
	store  *kvstore.Store
	rules  map[LockoutAction]config.LockoutRule
	logger *slog.Logger
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(store *kvstore.Store, cfg config.LockoutConfig, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		store: store,
		rules: map[LockoutAction]config.LockoutRule{
			ActionLogin:         cfg.Login,
			ActionMFA:           cfg.MFA,
			ActionPasswordReset: cfg.PasswordReset,
		},
		logger: logger,
	}
}

// key hashes the identifier so raw emails never appear in key names
func (s *LockoutService) key(action LockoutAction, identifier string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identifier))))
	return s.store.Key("lockout", string(action), hex.EncodeToString(sum[:16]))
}

// CheckAndRecord counts one attempt and reports whether it may proceed.
// Once the count passes the threshold every call is refused until the block lapses.
func (s *LockoutService) CheckAndRecord(ctx context.Context, identifier string, action LockoutAction) (LockoutDecision, error) {
	rule, ok := s.rules[action]
	if !ok {
		return LockoutDecision{}, fmt.Errorf("unknown lockout action %q", action)
	}

	counter, err := s.store.Hit(ctx, s.key(action, identifier), int64(rule.Threshold), rule.Window, rule.Block)
	if err != nil {
		s.logger.Error("lockout counter unavailable",
			slog.String("action", string(action)),
			slog.Any("error", err))
		return LockoutDecision{}, err
	}

	if counter.Count > int64(rule.Threshold) {
		retryAfter := counter.TTL
		if retryAfter <= 0 {
			retryAfter = rule.Block
		}
		if counter.Count == int64(rule.Threshold)+1 {
			s.logger.Warn("lockout threshold exceeded",
				slog.String("action", string(action)),
				slog.Duration("block", rule.Block))
		}
		return LockoutDecision{Allowed: false, Attempts: counter.Count, RetryAfter: retryAfter}, nil
	}

	return LockoutDecision{Allowed: true, Attempts: counter.Count}, nil
}

// Clear resets the counter after a successful attempt or an admin unlock
func (s *LockoutService) Clear(ctx context.Context, identifier string, action LockoutAction) error {
	return s.store.Delete(ctx, s.key(action, identifier))
}
