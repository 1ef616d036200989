package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/kvstore"
	"github.com/BradenHooton/sentinel/internal/models"
)

const (
	// codeReuseWindow covers the three accepted TOTP steps
	codeReuseWindow      = 90 * time.Second
	pendingEnrollmentTTL = 10 * time.Minute
)

// MFAService verifies TOTP codes and manages enrollment
type MFAService struct {
	repo   AccountRepository
	totp   *auth.TOTPManager
	store  *kvstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewMFAService creates a new MFA service
func NewMFAService(repo AccountRepository, totp *auth.TOTPManager, store *kvstore.Store, logger *slog.Logger) *MFAService {
	return &MFAService{
		repo:   repo,
		totp:   totp,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Verify checks code against the account's secret at time at.
// Every kind of failure is reported as false.
func (s *MFAService) Verify(account *models.Account, code string, at time.Time) bool {
	if account == nil || !account.MFAEnabled {
		return false
	}
	return s.totp.Verify(account.MFASecret, code, at)
}

// ClaimCode marks a verified code as spent for this account.
// It returns false when the same code was already accepted.
func (s *MFAService) ClaimCode(ctx context.Context, userID, code string) (bool, error) {
	return s.store.SetIfAbsent(ctx, s.store.Key("mfa_used", userID, code), []byte("1"), codeReuseWindow)
}

func (s *MFAService) pendingKey(userID string) string {
	return s.store.Key("mfa_pending", userID)
}

// BeginEnrollment generates a new secret and parks it until ConfirmEnrollment.
// Accounts that already use MFA must prove possession of the current secret first.
func (s *MFAService) BeginEnrollment(ctx context.Context, account *models.Account, currentCode string) (*models.MFAEnrollment, error) {
	if account.MFAEnabled {
		if !s.Verify(account, currentCode, s.now()) {
			return nil, models.ErrInvalidMFACode
		}
		fresh, err := s.ClaimCode(ctx, account.ID, currentCode)
		if err != nil {
			return nil, err
		}
		if !fresh {
			return nil, models.ErrInvalidMFACode
		}
	}

	sealed, enrollment, err := s.totp.GenerateEnrollment(account.Email)
	if err != nil {
		s.logger.Error("failed to generate mfa secret", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.store.SetJSON(ctx, s.pendingKey(account.ID), sealed, pendingEnrollmentTTL); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ConfirmEnrollment activates the pending secret once the user proves their app produces valid codes
func (s *MFAService) ConfirmEnrollment(ctx context.Context, account *models.Account, code string) error {
	var sealed models.SealedSecret
	err := s.store.GetJSON(ctx, s.pendingKey(account.ID), &sealed)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrMFANotEnrolled
	}
	if err != nil {
		return err
	}

	if !s.totp.Verify(&sealed, code, s.now()) {
		return models.ErrInvalidMFACode
	}
	fresh, err := s.ClaimCode(ctx, account.ID, code)
	if err != nil {
		return err
	}
	if !fresh {
		return models.ErrInvalidMFACode
	}

	if err := s.repo.EnableMFA(ctx, account.ID, &sealed); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, s.pendingKey(account.ID)); err != nil {
		s.logger.Warn("failed to drop pending mfa secret", slog.String("user_id", account.ID), slog.Any("error", err))
	}

	account.MFAEnabled = true
	account.MFASecret = &sealed
	s.logger.Info("mfa enabled", slog.String("user_id", account.ID))
	return nil
}
