package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
)

// AccountRepository defines the persistence operations the auth services need
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	RecordLoginFailure(ctx context.Context, id string, threshold int, windowStart, lockUntil, now time.Time) (int, *time.Time, error)
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	EnableMFA(ctx context.Context, id string, secret *models.SealedSecret) error
	ClearLock(ctx context.Context, id string) error
	ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// CredentialService looks up accounts and checks passwords against their stored hashes
type CredentialService struct {
	repo   AccountRepository
	hasher *pkgauth.Hasher
	rule   config.LockoutRule
	logger *slog.Logger
	now    func() time.Time
}

// NewCredentialService creates a new CredentialService. rule sets when the
// persisted failure counter locks the account.
func NewCredentialService(repo AccountRepository, hasher *pkgauth.Hasher, rule config.LockoutRule, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		repo:   repo,
		hasher: hasher,
		rule:   rule,
		logger: logger,
		now:    time.Now,
	}
}

// FindByEmail returns the account or models.ErrNotFound
func (s *CredentialService) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrNotFound
	}
	return s.repo.GetByEmail(ctx, email)
}

func (s *CredentialService) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return s.repo.GetByID(ctx, id)
}

// VerifyPassword compares candidate with the account's hash in constant time.
// A nil account still pays for a full hash so a missing user costs the same as a wrong password.
func (s *CredentialService) VerifyPassword(account *models.Account, candidate string) bool {
	if account == nil {
		s.hasher.VerifyDummy(candidate)
		return false
	}

	ok, err := s.hasher.Verify(candidate, account.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unreadable",
			slog.String("user_id", account.ID),
			slog.Any("error", err))
		return false
	}
	return ok
}

// RecordFailure bumps the persisted failure counter, locking the account at the threshold.
// A failure more than one window after the previous one starts a new count.
func (s *CredentialService) RecordFailure(ctx context.Context, account *models.Account) error {
	now := s.now()
	count, lockedUntil, err := s.repo.RecordLoginFailure(ctx, account.ID, s.rule.Threshold,
		now.Add(-s.rule.Window), now.Add(s.rule.Block), now)
	if err != nil {
		return fmt.Errorf("failed to record login failure: %w", err)
	}

	account.FailedLoginCount = count
	account.LastFailedAt = &now
	account.LockedUntil = lockedUntil
	if lockedUntil != nil && count == s.rule.Threshold {
		s.logger.Warn("account locked after repeated failures",
			slog.String("user_id", account.ID),
			slog.Int("failed_attempts", count),
			slog.Time("locked_until", *lockedUntil))
	}
	return nil
}

// RecordSuccess zeroes the failure counter and stamps the login time
func (s *CredentialService) RecordSuccess(ctx context.Context, account *models.Account) error {
	now := s.now()
	if err := s.repo.RecordLoginSuccess(ctx, account.ID, now); err != nil {
		return fmt.Errorf("failed to record login success: %w", err)
	}
	account.FailedLoginCount = 0
	account.LastFailedAt = nil
	account.LockedUntil = nil
	account.LastLoginAt = &now
	return nil
}

// UpgradeHash re-hashes a verified password when its stored hash uses old parameters or bcrypt.
// Failures are logged only; the login itself already succeeded.
func (s *CredentialService) UpgradeHash(ctx context.Context, account *models.Account, password string) {
	if !s.hasher.NeedsRehash(account.PasswordHash) {
		return
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to rehash password", slog.String("user_id", account.ID), slog.Any("error", err))
		return
	}
	if err := s.repo.UpdatePassword(ctx, account.ID, hash); err != nil {
		s.logger.Error("failed to store upgraded hash", slog.String("user_id", account.ID), slog.Any("error", err))
		return
	}
	account.PasswordHash = hash
	s.logger.Info("password hash upgraded", slog.String("user_id", account.ID))
}

// SetPassword validates and stores a new password
func (s *CredentialService) SetPassword(ctx context.Context, account *models.Account, password string) error {
	if err := pkgauth.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	account.PasswordHash = hash
	return nil
}

// Unlock lifts a persisted lock
func (s *CredentialService) Unlock(ctx context.Context, id string) error {
	return s.repo.ClearLock(ctx, id)
}

// SweepExpiredLocks clears locks that have lapsed; used by the background job
func (s *CredentialService) SweepExpiredLocks(ctx context.Context) (int64, error) {
	n, err := s.repo.ClearExpiredLocks(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired locks: %w", err)
	}
	return n, nil
}

// isNotFound folds "no such account" so callers can treat it as a failed credential check
func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
