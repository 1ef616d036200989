package services

import (
	"context"
	"time"

	"github.com/BradenHooton/sentinel/internal/kvstore"
	"github.com/BradenHooton/sentinel/internal/models"
)

// DeviceTrustService tracks which devices have recently satisfied MFA.
// A marker lives for the trust window and is refreshed every time the device is used.
type DeviceTrustService struct {
	store  *kvstore.Store
	window time.Duration
	now    func() time.Time
}

func NewDeviceTrustService(store *kvstore.Store, window time.Duration) *DeviceTrustService {
	return &DeviceTrustService{
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// Window is how long a marker survives without being refreshed
func (s *DeviceTrustService) Window() time.Duration {
	return s.window
}

func (s *DeviceTrustService) key(userID, deviceID string) string {
	return s.store.Key("device", userID, deviceID)
}

// IsTrusted reports whether a live marker exists. An unknown or empty device is simply untrusted.
func (s *DeviceTrustService) IsTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	if userID == "" || deviceID == "" {
		return false, nil
	}
	return s.store.Exists(ctx, s.key(userID, deviceID))
}

// MarkTrusted sets or refreshes the marker for the full window
func (s *DeviceTrustService) MarkTrusted(ctx context.Context, userID string, device models.DeviceInfo) error {
	if userID == "" || device.DeviceID == "" {
		return nil
	}
	fp := models.DeviceFingerprint{
		UserID:    userID,
		DeviceID:  device.DeviceID,
		Name:      device.Name,
		UserAgent: device.UserAgent,
		IPAddress: device.IPAddress,
		LastSeen:  s.now().UTC(),
	}
	return s.store.SetJSON(ctx, s.key(userID, device.DeviceID), fp, s.window)
}
