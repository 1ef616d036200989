package services

import (
	"context"
	"time"

	"github.com/BradenHooton/sentinel/internal/kvstore"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
)

// SessionService keeps session records and pending MFA challenges in the shared store
type SessionService struct {
	store        *kvstore.Store
	sessionTTL   time.Duration
	challengeTTL time.Duration
	now          func() time.Time
}

// NewSessionService creates a SessionService. Sessions live as long as device trust;
// challenges only for the few minutes a user needs to type a code.
func NewSessionService(store *kvstore.Store, sessionTTL, challengeTTL time.Duration) *SessionService {
	return &SessionService{
		store:        store,
		sessionTTL:   sessionTTL,
		challengeTTL: challengeTTL,
		now:          time.Now,
	}
}

func (s *SessionService) sessionKey(id string) string {
	return s.store.Key("session", id)
}

func (s *SessionService) challengeKey(id string) string {
	return s.store.Key("mfa_challenge", id)
}

// CreateSession records a newly authenticated device session
func (s *SessionService) CreateSession(ctx context.Context, userID string, device models.DeviceInfo) (*models.Session, error) {
	session := &models.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		DeviceID:  device.DeviceID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SetJSON(ctx, s.sessionKey(session.ID), session, s.sessionTTL); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns the session record or models.ErrNotFound once it ended or expired
func (s *SessionService) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, models.ErrNotFound
	}
	var session models.Session
	if err := s.store.GetJSON(ctx, s.sessionKey(id), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionService) EndSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.store.Delete(ctx, s.sessionKey(id))
}

// CreateChallenge opens the MFA step of a login
func (s *SessionService) CreateChallenge(ctx context.Context, userID string, device models.DeviceInfo) (*models.MFAChallenge, error) {
	challenge := &models.MFAChallenge{
		ID:        uuid.New().String(),
		UserID:    userID,
		DeviceID:  device.DeviceID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SetJSON(ctx, s.challengeKey(challenge.ID), challenge, s.challengeTTL); err != nil {
		return nil, err
	}
	return challenge, nil
}

// GetChallenge returns the pending challenge without consuming it
func (s *SessionService) GetChallenge(ctx context.Context, id string) (*models.MFAChallenge, error) {
	if id == "" {
		return nil, models.ErrNotFound
	}
	var challenge models.MFAChallenge
	if err := s.store.GetJSON(ctx, s.challengeKey(id), &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// ConsumeChallenge removes the challenge atomically. Only one caller can consume it;
// the others get models.ErrNotFound.
func (s *SessionService) ConsumeChallenge(ctx context.Context, id string) error {
	_, err := s.store.Take(ctx, s.challengeKey(id))
	return err
}
