package models

import (
	"time"
)

// SealedSecret is an AES-256-GCM encrypted TOTP secret.
// The plaintext is never stored; it only exists while a code is being checked.
type SealedSecret struct {
	Nonce      []byte `json:"nonce"`      // GCM nonce (12 bytes)
	Ciphertext []byte `json:"ciphertext"` // sealed secret including the GCM tag
}

// MFAMethodTOTP is the only second factor accepted at login
const MFAMethodTOTP = "totp"

// MFAChallenge is the pending second step of a login that needs MFA.
// It lives in the shared store for a few minutes and is consumed on success.
type MFAChallenge struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// MFAEnrollment contains what a user needs to add the secret to an authenticator app
type MFAEnrollment struct {
	Secret          string `json:"secret"`           // base32, shown once
	ProvisioningURI string `json:"provisioning_uri"` // otpauth:// URL
	QRCode          string `json:"qr_code"`          // PNG data URL
}
