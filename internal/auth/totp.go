package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpSkew   = 1 // ±1 step around the submission time
)

// TOTPManager seals TOTP secrets with AES-256-GCM and checks codes against them
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // Issuer name for TOTP QR codes
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// GenerateEnrollment creates a fresh secret for accountName.
// The sealed form is what gets persisted; the enrollment is shown to the user once.
func (tm *TOTPManager) GenerateEnrollment(accountName string) (*models.SealedSecret, *models.MFAEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	sealed, err := tm.Seal([]byte(key.Secret()))
	if err != nil {
		return nil, nil, err
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return sealed, &models.MFAEnrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// Seal encrypts a base32 TOTP secret using AES-256-GCM
func (tm *TOTPManager) Seal(secret []byte) (*models.SealedSecret, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &models.SealedSecret{
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, secret, nil),
	}, nil
}

// Open decrypts a sealed secret
func (tm *TOTPManager) Open(sealed *models.SealedSecret) ([]byte, error) {
	if sealed == nil || len(sealed.Nonce) == 0 || len(sealed.Ciphertext) == 0 {
		return nil, models.ErrMFANotEnrolled
	}

	gcm, err := tm.gcm()
	if err != nil {
		return nil, err
	}
	if len(sealed.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size %d", len(sealed.Nonce))
	}

	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Verify checks a 6-digit code against the sealed secret at time at.
// Decryption failures, malformed codes and mismatches all come back false.
func (tm *TOTPManager) Verify(sealed *models.SealedSecret, code string, at time.Time) bool {
	if !isSixDigits(code) {
		return false
	}

	secret, err := tm.Open(sealed)
	if err != nil {
		return false
	}

	valid, err := totp.ValidateCustom(code, string(secret), at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
