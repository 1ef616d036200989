package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// AuthServiceConfig holds the orchestration knobs that are not owned by a collaborator
type AuthServiceConfig struct {
	SubmissionSkew       time.Duration // max age of a client-stamped MFA submission
	EnforceDeviceBinding bool          // refresh requires the bound device to still be trusted
}

// LoginRequest is a password login attempt
type LoginRequest struct {
	Email    string
	Password string
	Device   models.DeviceInfo
}

// LoginResult is the outcome of Login or VerifyMFA.
// When MFARequired is set, Tokens is nil and SessionID is the MFA challenge id.
type LoginResult struct {
	User        *models.AccountResponse `json:"user"`
	Tokens      *models.TokenPair       `json:"tokens,omitempty"`
	MFARequired bool                    `json:"mfa_required"`
	SessionID   string                  `json:"session_id"`
}

// MFAVerifyRequest completes a login that returned MFARequired
type MFAVerifyRequest struct {
	UserID      string
	ChallengeID string
	Code        string
	Method      string
	Timestamp   int64 // client clock, unix milliseconds
	Device      models.DeviceInfo
}

// AuthService drives the login state machine:
// Unauthenticated -> CredentialsVerified -> (MFARequired | Authenticated)
type AuthService struct {
	credentials *CredentialService
	lockout     *LockoutService
	devices     *DeviceTrustService
	mfa         *MFAService
	sessions    *SessionService
	tokens      *auth.TokenIssuer
	timing      *auth.TimingDelay
	events      pkglogger.EventSink
	config      AuthServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	credentials *CredentialService,
	lockout *LockoutService,
	devices *DeviceTrustService,
	mfa *MFAService,
	sessions *SessionService,
	tokens *auth.TokenIssuer,
	timing *auth.TimingDelay,
	events pkglogger.EventSink,
	config AuthServiceConfig,
	logger *slog.Logger,
) *AuthService {
	if config.SubmissionSkew <= 0 {
		config.SubmissionSkew = 30 * time.Second
	}
	return &AuthService{
		credentials: credentials,
		lockout:     lockout,
		devices:     devices,
		mfa:         mfa,
		sessions:    sessions,
		tokens:      tokens,
		timing:      timing,
		events:      events,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Login checks a password and either issues tokens or opens an MFA challenge
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	start := time.Now()
	email := strings.ToLower(strings.TrimSpace(req.Email))

	decision, err := s.lockout.CheckAndRecord(ctx, email, ActionLogin)
	if err != nil {
		s.emitStoreFailure(ctx, "", req.Device, err)
		return nil, err
	}
	if !decision.Allowed {
		s.emit(ctx, pkglogger.EventLoginLocked, pkglogger.SeverityWarning, pkglogger.OutcomeBlocked, "", "too_many_attempts", req.Device)
		return nil, &models.LockoutError{RetryAfter: decision.RetryAfter}
	}

	account, err := s.credentials.FindByEmail(ctx, email)
	if err != nil && !isNotFound(err) {
		s.logger.Error("account lookup failed", slog.Any("error", err))
		return nil, err
	}

	if account == nil {
		s.credentials.VerifyPassword(nil, req.Password)
		s.logger.Warn("login attempt for unknown account", slog.String("email", pkglogger.SanitizedEmail(email)))
		s.emit(ctx, pkglogger.EventLoginFailure, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, "", "invalid_credentials", req.Device)
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrInvalidCredentials
	}

	now := s.now()
	if account.IsLocked(now) {
		s.emit(ctx, pkglogger.EventLoginLocked, pkglogger.SeverityWarning, pkglogger.OutcomeBlocked, account.ID, "account_locked", req.Device)
		return nil, &models.LockoutError{RetryAfter: account.LockedUntil.Sub(now)}
	}

	if !s.credentials.VerifyPassword(account, req.Password) {
		if err := s.credentials.RecordFailure(ctx, account); err != nil {
			s.logger.Error("failed to record login failure", slog.String("user_id", account.ID), slog.Any("error", err))
		}
		s.emit(ctx, pkglogger.EventLoginFailure, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, account.ID, "invalid_credentials", req.Device)
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrInvalidCredentials
	}

	// credentials verified
	if err := s.credentials.RecordSuccess(ctx, account); err != nil {
		return nil, err
	}
	s.credentials.UpgradeHash(ctx, account, req.Password)
	if err := s.lockout.Clear(ctx, email, ActionLogin); err != nil {
		s.logger.Warn("failed to clear login counter", slog.String("user_id", account.ID), slog.Any("error", err))
	}

	trusted, err := s.devices.IsTrusted(ctx, account.ID, req.Device.DeviceID)
	if err != nil {
		s.emitStoreFailure(ctx, account.ID, req.Device, err)
		return nil, err
	}

	if account.MFAEnabled && !trusted {
		challenge, err := s.sessions.CreateChallenge(ctx, account.ID, req.Device)
		if err != nil {
			s.emitStoreFailure(ctx, account.ID, req.Device, err)
			return nil, err
		}
		s.emit(ctx, pkglogger.EventMFARequired, pkglogger.SeverityInfo, pkglogger.OutcomeChallenge, account.ID, "untrusted_device", req.Device)
		s.timing.WaitFrom(ctx, start, true)
		return &LoginResult{
			User:        &models.AccountResponse{ID: account.ID},
			MFARequired: true,
			SessionID:   challenge.ID,
		}, nil
	}

	result, err := s.authenticate(ctx, account, req.Device, trusted)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", account.ID))
	s.emit(ctx, pkglogger.EventLoginSuccess, pkglogger.SeverityInfo, pkglogger.OutcomeSuccess, account.ID, "", req.Device)
	s.timing.WaitFrom(ctx, start, true)
	return result, nil
}

// VerifyMFA completes a login that is waiting on a TOTP code
func (s *AuthService) VerifyMFA(ctx context.Context, req MFAVerifyRequest) (*LoginResult, error) {
	start := time.Now()
	if req.Method != "" && req.Method != models.MFAMethodTOTP {
		return nil, models.ErrBadRequest
	}

	decision, err := s.lockout.CheckAndRecord(ctx, req.UserID, ActionMFA)
	if err != nil {
		s.emitStoreFailure(ctx, req.UserID, req.Device, err)
		return nil, err
	}
	if !decision.Allowed {
		s.emit(ctx, pkglogger.EventMFAFailure, pkglogger.SeverityWarning, pkglogger.OutcomeBlocked, req.UserID, "too_many_attempts", req.Device)
		return nil, &models.LockoutError{RetryAfter: decision.RetryAfter}
	}

	now := s.now()
	if age := now.Sub(time.UnixMilli(req.Timestamp)); age > s.config.SubmissionSkew || age < -s.config.SubmissionSkew {
		s.emit(ctx, pkglogger.EventMFAFailure, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, req.UserID, "stale_submission", req.Device)
		return nil, models.ErrMFAExpired
	}

	challenge, err := s.sessions.GetChallenge(ctx, req.ChallengeID)
	if isNotFound(err) || (err == nil && challenge.UserID != req.UserID) {
		s.emit(ctx, pkglogger.EventMFAFailure, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, req.UserID, "unknown_challenge", req.Device)
		return nil, models.ErrMFAExpired
	}
	if err != nil {
		s.emitStoreFailure(ctx, req.UserID, req.Device, err)
		return nil, err
	}

	account, err := s.credentials.FindByID(ctx, req.UserID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	if !s.mfa.Verify(account, req.Code, now) {
		s.emit(ctx, pkglogger.EventMFAFailure, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, req.UserID, "invalid_code", req.Device)
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrInvalidMFACode
	}

	fresh, err := s.mfa.ClaimCode(ctx, account.ID, req.Code)
	if err != nil {
		s.emitStoreFailure(ctx, account.ID, req.Device, err)
		return nil, err
	}
	if !fresh {
		s.emit(ctx, pkglogger.EventMFAFailure, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, account.ID, "code_reused", req.Device)
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrInvalidMFACode
	}

	if err := s.sessions.ConsumeChallenge(ctx, challenge.ID); err != nil {
		if isNotFound(err) {
			return nil, models.ErrMFAExpired
		}
		return nil, err
	}
	if err := s.lockout.Clear(ctx, account.ID, ActionMFA); err != nil {
		s.logger.Warn("failed to clear mfa counter", slog.String("user_id", account.ID), slog.Any("error", err))
	}

	// the device that started the login is the one being trusted
	device := req.Device
	device.DeviceID = challenge.DeviceID

	result, err := s.authenticate(ctx, account, device, true)
	if err != nil {
		return nil, err
	}

	s.logger.Info("mfa verified", slog.String("user_id", account.ID))
	s.emit(ctx, pkglogger.EventMFASuccess, pkglogger.SeverityInfo, pkglogger.OutcomeSuccess, account.ID, "", device)
	return result, nil
}

// authenticate issues tokens for a fully verified account and records the session.
// trust refreshes the device trust marker.
func (s *AuthService) authenticate(ctx context.Context, account *models.Account, device models.DeviceInfo, trust bool) (*LoginResult, error) {
	session, err := s.sessions.CreateSession(ctx, account.ID, device)
	if err != nil {
		s.emitStoreFailure(ctx, account.ID, device, err)
		return nil, err
	}

	tokens, err := s.tokens.Issue(ctx, models.SubjectFromAccount(account, device.DeviceID, session.ID))
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, err
	}

	if trust {
		if err := s.devices.MarkTrusted(ctx, account.ID, device); err != nil {
			s.emitStoreFailure(ctx, account.ID, device, err)
			return nil, err
		}
	}

	return &LoginResult{
		User:      account.ToResponse(),
		Tokens:    tokens,
		SessionID: session.ID,
	}, nil
}

// Refresh rotates a refresh token into a new pair.
// Any failure is terminal for the presented token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device models.DeviceInfo) (*models.TokenPair, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, models.TokenKindRefresh)
	if err != nil {
		s.rejectRefresh(ctx, "", device, err)
		return nil, err
	}
	userID := claims.UserID()

	if _, err := s.sessions.GetSession(ctx, claims.SessionID); err != nil {
		if isNotFound(err) {
			err = models.ErrTokenRevoked
		}
		s.rejectRefresh(ctx, userID, device, err)
		return nil, err
	}

	if s.config.EnforceDeviceBinding {
		if err := s.checkDeviceBinding(ctx, claims, device); err != nil {
			s.rejectRefresh(ctx, userID, device, err)
			return nil, err
		}
	}

	pair, _, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		s.rejectRefresh(ctx, userID, device, err)
		return nil, err
	}

	s.emit(ctx, pkglogger.EventTokenRefresh, pkglogger.SeverityInfo, pkglogger.OutcomeSuccess, userID, "", device)
	return pair, nil
}

// checkDeviceBinding requires the refresh to come from the device the pair was issued to.
// Accounts with MFA additionally need that device to still be trusted.
func (s *AuthService) checkDeviceBinding(ctx context.Context, claims *models.TokenClaims, device models.DeviceInfo) error {
	if device.DeviceID != claims.DeviceID {
		return models.ErrDeviceUntrusted
	}

	account, err := s.credentials.FindByID(ctx, claims.UserID())
	if err != nil {
		if isNotFound(err) {
			return models.ErrTokenRevoked
		}
		return err
	}
	if !account.MFAEnabled {
		return nil
	}

	trusted, err := s.devices.IsTrusted(ctx, account.ID, claims.DeviceID)
	if err != nil {
		return err
	}
	if !trusted {
		return models.ErrDeviceUntrusted
	}
	return nil
}

// Logout revokes the access token and ends its session. A presented refresh
// token is revoked too; failures on it are ignored since the session is gone anyway.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string, device models.DeviceInfo) error {
	if err := s.tokens.RevokeClaims(ctx, claims); err != nil {
		s.emitStoreFailure(ctx, claims.UserID(), device, err)
		return err
	}
	if err := s.sessions.EndSession(ctx, claims.SessionID); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
			s.logger.Debug("refresh token not revoked on logout", slog.Any("error", err))
		}
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID()))
	s.emit(ctx, pkglogger.EventLogout, pkglogger.SeverityInfo, pkglogger.OutcomeSuccess, claims.UserID(), "", device)
	return nil
}

// ChangePassword replaces the caller's password after re-checking the current one
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string, device models.DeviceInfo) error {
	start := time.Now()

	decision, err := s.lockout.CheckAndRecord(ctx, userID, ActionPasswordReset)
	if err != nil {
		s.emitStoreFailure(ctx, userID, device, err)
		return err
	}
	if !decision.Allowed {
		s.emit(ctx, pkglogger.EventPasswordChange, pkglogger.SeverityWarning, pkglogger.OutcomeBlocked, userID, "too_many_attempts", device)
		return &models.LockoutError{RetryAfter: decision.RetryAfter}
	}

	account, err := s.credentials.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if !s.credentials.VerifyPassword(account, current) {
		s.emit(ctx, pkglogger.EventPasswordChange, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, userID, "invalid_credentials", device)
		s.timing.WaitFrom(ctx, start, false)
		return models.ErrInvalidCredentials
	}

	if err := s.credentials.SetPassword(ctx, account, next); err != nil {
		return err
	}
	if err := s.lockout.Clear(ctx, userID, ActionPasswordReset); err != nil {
		s.logger.Warn("failed to clear password counter", slog.String("user_id", userID), slog.Any("error", err))
	}

	s.logger.Info("password changed", slog.String("user_id", userID))
	s.emit(ctx, pkglogger.EventPasswordChange, pkglogger.SeverityInfo, pkglogger.OutcomeSuccess, userID, "", device)
	return nil
}

// EnrollMFA starts TOTP enrollment for the caller. currentCode is only
// needed when MFA is already enabled.
func (s *AuthService) EnrollMFA(ctx context.Context, userID, currentCode string, device models.DeviceInfo) (*models.MFAEnrollment, error) {
	account, err := s.gatedMFAAccount(ctx, userID, device)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.mfa.BeginEnrollment(ctx, account, currentCode)
	if err != nil {
		if errors.Is(err, models.ErrInvalidMFACode) {
			s.emit(ctx, pkglogger.EventMFAFailure, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, userID, "invalid_code", device)
		}
		return nil, err
	}
	return enrollment, nil
}

// ConfirmMFA activates the pending secret and trusts the device it was confirmed from
func (s *AuthService) ConfirmMFA(ctx context.Context, userID, code string, device models.DeviceInfo) error {
	account, err := s.gatedMFAAccount(ctx, userID, device)
	if err != nil {
		return err
	}

	if err := s.mfa.ConfirmEnrollment(ctx, account, code); err != nil {
		if errors.Is(err, models.ErrInvalidMFACode) {
			s.emit(ctx, pkglogger.EventMFAFailure, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, userID, "invalid_code", device)
		}
		return err
	}

	if err := s.lockout.Clear(ctx, userID, ActionMFA); err != nil {
		s.logger.Warn("failed to clear mfa counter", slog.String("user_id", userID), slog.Any("error", err))
	}
	if err := s.devices.MarkTrusted(ctx, userID, device); err != nil {
		s.logger.Warn("failed to trust enrolling device", slog.String("user_id", userID), slog.Any("error", err))
	}

	s.emit(ctx, pkglogger.EventMFAEnrolled, pkglogger.SeverityInfo, pkglogger.OutcomeSuccess, userID, "", device)
	return nil
}

func (s *AuthService) gatedMFAAccount(ctx context.Context, userID string, device models.DeviceInfo) (*models.Account, error) {
	decision, err := s.lockout.CheckAndRecord(ctx, userID, ActionMFA)
	if err != nil {
		s.emitStoreFailure(ctx, userID, device, err)
		return nil, err
	}
	if !decision.Allowed {
		s.emit(ctx, pkglogger.EventMFAFailure, pkglogger.SeverityWarning, pkglogger.OutcomeBlocked, userID, "too_many_attempts", device)
		return nil, &models.LockoutError{RetryAfter: decision.RetryAfter}
	}
	return s.credentials.FindByID(ctx, userID)
}

// UnlockAccount lifts both the persisted lock and the shared login/MFA counters
func (s *AuthService) UnlockAccount(ctx context.Context, adminID, accountID string) error {
	account, err := s.credentials.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.credentials.Unlock(ctx, account.ID); err != nil {
		return err
	}
	if err := s.lockout.Clear(ctx, account.Email, ActionLogin); err != nil {
		return err
	}
	if err := s.lockout.Clear(ctx, account.ID, ActionMFA); err != nil {
		return err
	}

	s.logger.Info("account unlocked", slog.String("user_id", account.ID), slog.String("admin_id", adminID))
	s.events.Emit(ctx, pkglogger.SecurityEvent{
		EventType: pkglogger.EventAccountUnlocked,
		Severity:  pkglogger.SeverityWarning,
		UserID:    account.ID,
		Outcome:   pkglogger.OutcomeSuccess,
		Metadata:  map[string]string{"admin_id": adminID},
	})
	return nil
}

func (s *AuthService) rejectRefresh(ctx context.Context, userID string, device models.DeviceInfo, err error) {
	if errors.Is(err, models.ErrStoreUnavailable) {
		s.emitStoreFailure(ctx, userID, device, err)
		return
	}
	s.emit(ctx, pkglogger.EventRefreshRejected, pkglogger.SeverityWarning, pkglogger.OutcomeFailure, userID, refreshReason(err), device)
}

func refreshReason(err error) string {
	switch {
	case errors.Is(err, models.ErrTokenExpired):
		return "expired"
	case errors.Is(err, models.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, models.ErrDeviceUntrusted):
		return "device_untrusted"
	default:
		return "malformed"
	}
}

func (s *AuthService) emitStoreFailure(ctx context.Context, userID string, device models.DeviceInfo, err error) {
	s.logger.Error("auth store unavailable", slog.String("user_id", userID), slog.Any("error", err))
	s.emit(ctx, pkglogger.EventStoreFailure, pkglogger.SeverityCritical, pkglogger.OutcomeFailure, userID, "store_unavailable", device)
}

func (s *AuthService) emit(ctx context.Context, eventType string, severity pkglogger.Severity, outcome pkglogger.Outcome, userID, reason string, device models.DeviceInfo) {
	event := pkglogger.SecurityEvent{
		EventType: eventType,
		Severity:  severity,
		UserID:    userID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Outcome:   outcome,
		Reason:    reason,
	}
	if device.DeviceID != "" {
		event.Metadata = map[string]string{"device_id": device.DeviceID}
	}
	s.events.Emit(ctx, event)
}
