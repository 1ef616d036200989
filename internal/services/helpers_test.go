package services

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/kvstore"
	"github.com/BradenHooton/sentinel/internal/kvstore/kvstoretest"
	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const (
	testPassword   = "Correct-Horse-42"
	testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
)

var testLockout = config.LockoutConfig{
	Login:         config.LockoutRule{Threshold: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
	MFA:           config.LockoutRule{Threshold: 3, Window: 5 * time.Minute, Block: 30 * time.Minute},
	PasswordReset: config.LockoutRule{Threshold: 3, Window: time.Hour, Block: 24 * time.Hour},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock drives every service clock and the miniredis TTL clock together
type testClock struct {
	mu sync.Mutex
	t  time.Time
	mr *miniredis.Miniredis
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	c.mr.FastForward(d)
}

// recordingSink collects emitted security events
type recordingSink struct {
	mu     sync.Mutex
	events []pkglogger.SecurityEvent
}

func (s *recordingSink) Emit(_ context.Context, e pkglogger.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// memAccounts backs a MockAccountRepository with a map so multi-step flows keep state
type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*models.Account
}

func (m *memAccounts) get(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func newMemAccounts(accounts ...*models.Account) (*MockAccountRepository, *memAccounts) {
	mem := &memAccounts{byID: map[string]*models.Account{}}
	for _, a := range accounts {
		mem.byID[a.ID] = a
	}

	update := func(id string, fn func(a *models.Account)) error {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		a, ok := mem.byID[id]
		if !ok {
			return models.ErrNotFound
		}
		fn(a)
		return nil
	}

	repo := &MockAccountRepository{
		GetByIDFunc: func(_ context.Context, id string) (*models.Account, error) {
			if a := mem.get(id); a != nil {
				return a, nil
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(_ context.Context, email string) (*models.Account, error) {
			mem.mu.Lock()
			defer mem.mu.Unlock()
			for _, a := range mem.byID {
				if a.Email == email {
					cp := *a
					return &cp, nil
				}
			}
			return nil, models.ErrNotFound
		},
		RecordLoginFailureFunc: func(_ context.Context, id string, threshold int, windowStart, lockUntil, now time.Time) (int, *time.Time, error) {
			var (
				count  int
				locked *time.Time
			)
			err := update(id, func(a *models.Account) {
				lapsed := a.LockedUntil != nil && !a.LockedUntil.After(now)
				stale := a.LastFailedAt == nil || !a.LastFailedAt.After(windowStart)
				if lapsed || stale {
					a.FailedLoginCount = 0
					a.LockedUntil = nil
				}
				a.FailedLoginCount++
				at := now
				a.LastFailedAt = &at
				if a.FailedLoginCount >= threshold {
					lu := lockUntil
					a.LockedUntil = &lu
				}
				count, locked = a.FailedLoginCount, a.LockedUntil
			})
			return count, locked, err
		},
		RecordLoginSuccessFunc: func(_ context.Context, id string, at time.Time) error {
			return update(id, func(a *models.Account) {
				a.FailedLoginCount = 0
				a.LastFailedAt = nil
				a.LockedUntil = nil
				a.LastLoginAt = &at
			})
		},
		UpdatePasswordFunc: func(_ context.Context, id, hash string) error {
			return update(id, func(a *models.Account) { a.PasswordHash = hash })
		},
		EnableMFAFunc: func(_ context.Context, id string, secret *models.SealedSecret) error {
			return update(id, func(a *models.Account) {
				a.MFAEnabled = true
				a.MFASecret = secret
			})
		},
		ClearLockFunc: func(_ context.Context, id string) error {
			return update(id, func(a *models.Account) {
				a.FailedLoginCount = 0
				a.LastFailedAt = nil
				a.LockedUntil = nil
			})
		},
		ClearExpiredLocksFunc: func(_ context.Context, now time.Time) (int64, error) {
			mem.mu.Lock()
			defer mem.mu.Unlock()
			var n int64
			for _, a := range mem.byID {
				if a.LockedUntil != nil && !a.LockedUntil.After(now) {
					a.FailedLoginCount = 0
					a.LastFailedAt = nil
					a.LockedUntil = nil
					n++
				}
			}
			return n, nil
		},
	}
	return repo, mem
}

type testEnv struct {
	svc      *AuthService
	repo     *MockAccountRepository
	accounts *memAccounts
	store    *kvstore.Store
	mr       *miniredis.Miniredis
	clock    *testClock
	hasher   *pkgauth.Hasher
	totp     *auth.TOTPManager
	tokens   *auth.TokenIssuer
	lockout  *LockoutService
	devices  *DeviceTrustService
	sessions *SessionService
	events   *recordingSink
}

type envOption func(*AuthServiceConfig, *auth.TimingConfig)

func withDeviceBinding() envOption {
	return func(c *AuthServiceConfig, _ *auth.TimingConfig) { c.EnforceDeviceBinding = true }
}

func withTiming(base int) envOption {
	return func(_ *AuthServiceConfig, t *auth.TimingConfig) { t.BaseDelayMs = base }
}

var (
	testHasherOnce sync.Once
	testHasher     *pkgauth.Hasher
)

func sharedHasher(t *testing.T) *pkgauth.Hasher {
	t.Helper()
	testHasherOnce.Do(func() {
		h, err := pkgauth.NewHasher(pkgauth.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
		if err == nil {
			testHasher = h
		}
	})
	require.NotNil(t, testHasher)
	return testHasher
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	store, mr := kvstoretest.New(t)
	clock := &testClock{t: time.Now(), mr: mr}
	logger := discardLogger()

	cfg := AuthServiceConfig{SubmissionSkew: 30 * time.Second}
	timing := auth.TimingConfig{}
	for _, opt := range opts {
		opt(&cfg, &timing)
	}

	hasher := sharedHasher(t)

	tm, err := auth.NewTOTPManager(make([]byte, 32), "Sentinel")
	require.NoError(t, err)

	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		SigningKey:    key,
		Issuer:        "sentinel",
		Audience:      "taskboard",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
		Clock:         clock.Now,
	}, store)
	require.NoError(t, err)

	repo, mem := newMemAccounts()

	credentials := NewCredentialService(repo, hasher, testLockout.Login, logger)
	credentials.now = clock.Now
	lockout := NewLockoutService(store, testLockout, logger)
	devices := NewDeviceTrustService(store, 30*24*time.Hour)
	devices.now = clock.Now
	mfa := NewMFAService(repo, tm, store, logger)
	mfa.now = clock.Now
	sessions := NewSessionService(store, 30*24*time.Hour, 5*time.Minute)
	sessions.now = clock.Now
	events := &recordingSink{}

	svc := NewAuthService(credentials, lockout, devices, mfa, sessions, tokens,
		auth.NewTimingDelay(timing), events, cfg, logger)
	svc.now = clock.Now

	return &testEnv{
		svc:      svc,
		repo:     repo,
		accounts: mem,
		store:    store,
		mr:       mr,
		clock:    clock,
		hasher:   hasher,
		totp:     tm,
		tokens:   tokens,
		lockout:  lockout,
		devices:  devices,
		sessions: sessions,
		events:   events,
	}
}

// addAccount stores an account whose password is testPassword
func (e *testEnv) addAccount(t *testing.T, id, email string) *models.Account {
	t.Helper()
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)
	a := NewTestAccount(id, email, hash)
	e.accounts.mu.Lock()
	e.accounts.byID[id] = a
	e.accounts.mu.Unlock()
	return a
}

// addMFAAccount stores an account with MFA enabled on testTOTPSecret
func (e *testEnv) addMFAAccount(t *testing.T, id, email string) *models.Account {
	t.Helper()
	a := e.addAccount(t, id, email)
	sealed, err := e.totp.Seal([]byte(testTOTPSecret))
	require.NoError(t, err)
	e.accounts.mu.Lock()
	a.MFAEnabled = true
	a.MFASecret = sealed
	e.accounts.mu.Unlock()
	return a
}

func (e *testEnv) code(t *testing.T, at time.Time) string {
	t.Helper()
	code, err := totpCode(testTOTPSecret, at)
	require.NoError(t, err)
	return code
}

func (e *testEnv) login(email, password, deviceID string) (*LoginResult, error) {
	return e.svc.Login(context.Background(), LoginRequest{
		Email:    email,
		Password: password,
		Device:   device(deviceID),
	})
}

func (e *testEnv) verifyMFA(userID, challengeID, code string) (*LoginResult, error) {
	return e.svc.VerifyMFA(context.Background(), MFAVerifyRequest{
		UserID:      userID,
		ChallengeID: challengeID,
		Code:        code,
		Method:      models.MFAMethodTOTP,
		Timestamp:   e.clock.Now().UnixMilli(),
		Device:      device(""),
	})
}

func device(id string) models.DeviceInfo {
	return models.DeviceInfo{
		DeviceID:  id,
		UserAgent: "test-agent",
		IPAddress: "203.0.113.7",
	}
}

func totpCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCode(secret, at)
}
