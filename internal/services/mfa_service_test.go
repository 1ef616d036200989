package services

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMFAService_VerifyWindow(t *testing.T) {
	env := newTestEnv(t)
	a := env.addMFAAccount(t, "user-1", "mfa@example.com")
	mfa := env.svc.mfa

	at := time.Unix(1_700_000_010, 0)
	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"current window", 0, true},
		{"previous window", -30 * time.Second, true},
		{"next window", 30 * time.Second, true},
		{"two windows prior", -60 * time.Second, false},
		{"two windows ahead", 60 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := env.code(t, at.Add(tt.offset))
			assert.Equal(t, tt.want, mfa.Verify(a, code, at))
		})
	}
}

func TestMFAService_VerifyNeverErrors(t *testing.T) {
	env := newTestEnv(t)
	a := env.addMFAAccount(t, "user-1", "mfa@example.com")
	mfa := env.svc.mfa
	now := time.Now()
	code := env.code(t, now)

	assert.False(t, mfa.Verify(nil, code, now))

	disabled := *a
	disabled.MFAEnabled = false
	assert.False(t, mfa.Verify(&disabled, code, now))

	corrupt := *a
	corrupt.MFASecret = &models.SealedSecret{Nonce: a.MFASecret.Nonce, Ciphertext: []byte("tampered")}
	assert.False(t, mfa.Verify(&corrupt, code, now))

	assert.False(t, mfa.Verify(a, "", now))
	assert.False(t, mfa.Verify(a, "1234567", now))
}

func TestMFAService_ClaimCode(t *testing.T) {
	env := newTestEnv(t)
	mfa := env.svc.mfa
	ctx := context.Background()

	fresh, err := mfa.ClaimCode(ctx, "user-1", "123456")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = mfa.ClaimCode(ctx, "user-1", "123456")
	require.NoError(t, err)
	assert.False(t, fresh, "same code twice")

	fresh, err = mfa.ClaimCode(ctx, "user-2", "123456")
	require.NoError(t, err)
	assert.True(t, fresh, "codes are tracked per account")

	env.clock.Advance(codeReuseWindow)
	fresh, err = mfa.ClaimCode(ctx, "user-1", "123456")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMFAService_PendingEnrollmentExpires(t *testing.T) {
	env := newTestEnv(t)
	a := env.addAccount(t, "user-1", "user@example.com")
	mfa := env.svc.mfa
	ctx := context.Background()

	enrollment, err := mfa.BeginEnrollment(ctx, a, "")
	require.NoError(t, err)

	env.clock.Advance(pendingEnrollmentTTL)
	code, err := totpCode(enrollment.Secret, env.clock.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, mfa.ConfirmEnrollment(ctx, a, code), models.ErrMFANotEnrolled)
}
