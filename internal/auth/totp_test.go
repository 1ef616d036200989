package auth

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Taskboard")
	require.NoError(t, err)
	return tm
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestNewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		tm, err := NewTOTPManager(make([]byte, length), "Taskboard")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestTOTPManager_GenerateEnrollment(t *testing.T) {
	tm := newTestTOTPManager(t)

	sealed, enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	assert.Len(t, sealed.Nonce, 12)
	assert.NotEmpty(t, sealed.Ciphertext)
	assert.NotContains(t, string(sealed.Ciphertext), enrollment.Secret)
	assert.True(t, strings.HasPrefix(enrollment.ProvisioningURI, "otpauth://totp/"))
	assert.Contains(t, enrollment.ProvisioningURI, "issuer=Taskboard")
	assert.True(t, strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,"))

	opened, err := tm.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, enrollment.Secret, string(opened))
}

func TestTOTPManager_SealUsesFreshNonce(t *testing.T) {
	tm := newTestTOTPManager(t)

	a, err := tm.Seal([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)
	b, err := tm.Seal([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestTOTPManager_Verify_Windows(t *testing.T) {
	tm := newTestTOTPManager(t)
	sealed, enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	now := time.Unix(1_700_000_010, 0)

	tests := []struct {
		name     string
		codeTime time.Time
		expected bool
	}{
		{"current step", now, true},
		{"previous step", now.Add(-30 * time.Second), true},
		{"next step", now.Add(30 * time.Second), true},
		{"two steps ago", now.Add(-60 * time.Second), false},
		{"two steps ahead", now.Add(60 * time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := codeAt(t, enrollment.Secret, tt.codeTime)
			assert.Equal(t, tt.expected, tm.Verify(sealed, code, now))
		})
	}
}

func TestTOTPManager_Verify_FailuresReturnFalse(t *testing.T) {
	tm := newTestTOTPManager(t)
	sealed, enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	now := time.Now()
	good := codeAt(t, enrollment.Secret, now)

	assert.False(t, tm.Verify(sealed, "12345", now), "short code")
	assert.False(t, tm.Verify(sealed, "12a456", now), "non-digit code")
	assert.False(t, tm.Verify(nil, good, now), "no secret")

	corrupted := &models.SealedSecret{
		Nonce:      sealed.Nonce,
		Ciphertext: append([]byte{sealed.Ciphertext[0] ^ 0xff}, sealed.Ciphertext[1:]...),
	}
	assert.False(t, tm.Verify(corrupted, good, now), "tampered ciphertext")

	other := newTestTOTPManager(t)
	assert.False(t, other.Verify(sealed, good, now), "wrong encryption key")
}

func TestTOTPManager_Open_NotEnrolled(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, err := tm.Open(nil)
	assert.ErrorIs(t, err, models.ErrMFANotEnrolled)

	_, err = tm.Open(&models.SealedSecret{})
	assert.ErrorIs(t, err, models.ErrMFANotEnrolled)
}
