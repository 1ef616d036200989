package models

import "time"

// DeviceInfo is what the client tells us about the device it is signing in from
type DeviceInfo struct {
	DeviceID  string `json:"device_id"`
	Name      string `json:"name,omitempty"`
	UserAgent string `json:"-"`
	IPAddress string `json:"-"`
}

// DeviceFingerprint is the trust marker kept for a (user, device) pair.
// It expires passively after the device trust window.
type DeviceFingerprint struct {
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name,omitempty"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	LastSeen  time.Time `json:"last_seen"`
}

// Session is the server-side record of an authenticated device session.
// Refresh is only possible while the record exists.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}
