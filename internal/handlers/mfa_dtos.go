package handlers

// MFA enrollment DTOs

// EnrollMFARequest starts (or restarts) TOTP enrollment.
// CurrentCode is required when the account already has MFA enabled.
type EnrollMFARequest struct {
	CurrentCode string `json:"current_code" validate:"omitempty,max=16"`
}

// ConfirmMFARequest proves the authenticator app produces codes for the pending secret
type ConfirmMFARequest struct {
	Code string `json:"code" validate:"required,max=16"`
}
