package models

import (
	"time"
)

// Account is the credential record for a person who can sign in.
type Account struct {
	ID               string
	Email            string // stored lower-cased
	PasswordHash     string // argon2id PHC string (legacy rows may hold bcrypt)
	Role             Role
	Permissions      []string
	MFAEnabled       bool
	MFASecret        *SealedSecret // nil until enrollment
	FailedLoginCount int
	LastFailedAt     *time.Time // most recent counted failure
	LockedUntil      *time.Time
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLocked reports whether a persisted lock is still in force at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// AccountResponse is the public view of an account.
// A login waiting on MFA only fills in ID.
type AccountResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	MFAEnabled  bool     `json:"mfa_enabled"`
}

// ToResponse converts an account into its public representation
func (a *Account) ToResponse() *AccountResponse {
	perms := a.Permissions
	if perms == nil {
		perms = []string{}
	}
	return &AccountResponse{
		ID:          a.ID,
		Email:       a.Email,
		Role:        a.Role.String(),
		Permissions: perms,
		MFAEnabled:  a.MFAEnabled,
	}
}
