package services

import (
	"context"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.Account, error)
	RecordLoginFailureFunc func(ctx context.Context, id string, threshold int, windowStart, lockUntil, now time.Time) (int, *time.Time, error)
	RecordLoginSuccessFunc func(ctx context.Context, id string, at time.Time) error
	UpdatePasswordFunc     func(ctx context.Context, id, passwordHash string) error
	EnableMFAFunc          func(ctx context.Context, id string, secret *models.SealedSecret) error
	ClearLockFunc          func(ctx context.Context, id string) error
	ClearExpiredLocksFunc  func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, windowStart, lockUntil, now time.Time) (int, *time.Time, error) {
	if m.RecordLoginFailureFunc != nil {
		return m.RecordLoginFailureFunc(ctx, id, threshold, windowStart, lockUntil, now)
	}
	return 1, nil, nil
}

func (m *MockAccountRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	if m.RecordLoginSuccessFunc != nil {
		return m.RecordLoginSuccessFunc(ctx, id, at)
	}
	return nil
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockAccountRepository) EnableMFA(ctx context.Context, id string, secret *models.SealedSecret) error {
	if m.EnableMFAFunc != nil {
		return m.EnableMFAFunc(ctx, id, secret)
	}
	return models.ErrInternalServer
}

func (m *MockAccountRepository) ClearLock(ctx context.Context, id string) error {
	if m.ClearLockFunc != nil {
		return m.ClearLockFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	if m.ClearExpiredLocksFunc != nil {
		return m.ClearExpiredLocksFunc(ctx, now)
	}
	return 0, nil
}

// NewTestAccount creates an account for tests with the given password hash
func NewTestAccount(id, email, passwordHash string) *models.Account {
	now := time.Now()
	return &models.Account{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         models.RoleMember,
		Permissions:  models.DefaultPermissions(models.RoleMember),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
