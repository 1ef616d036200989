package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upper bounds on token lifetimes
const (
	MaxAccessTokenExpiry  = 15 * time.Minute
	MaxRefreshTokenExpiry = 7 * 24 * time.Hour
	MaxStoreOpTimeout     = 3 * time.Second
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Lockout  LockoutConfig
	MFA      MFAConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	OpTimeout time.Duration
	PoolSize  int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestsPerMin int
}

type AuthConfig struct {
	SigningKey           ed25519.PrivateKey
	KeyID                string
	Issuer               string
	Audience             string
	AccessTokenExpiry    time.Duration
	RefreshTokenExpiry   time.Duration
	DeviceTrustWindow    time.Duration
	EnforceDeviceBinding bool
	CleanupInterval      time.Duration
	PersistEvents        bool
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
	TimingDelayOnSuccess bool
	CookieDomain         string
	CookieSecure         bool
	CookieSameSite       string
}

// LockoutRule is the threshold/window/block triple for one throttled action
type LockoutRule struct {
	Threshold int
	Window    time.Duration
	Block     time.Duration
}

type LockoutConfig struct {
	Login         LockoutRule
	MFA           LockoutRule
	PasswordReset LockoutRule
}

type MFAConfig struct {
	EncryptionKey  []byte // 32 bytes, AES-256
	Issuer         string
	SubmissionSkew time.Duration // max age of a client-stamped verify request
	ChallengeTTL   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	signingKey, err := parseSigningKey(getEnv("JWT_SIGNING_KEY", ""))
	if err != nil {
		return nil, err
	}

	mfaKey, err := parseMFAKey(getEnv("MFA_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sentinel"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "sentinel"),
			OpTimeout: getEnvAsDuration("REDIS_OP_TIMEOUT", 3*time.Second),
			PoolSize:  getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseList(getEnv("ALLOWED_ORIGINS", "")),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestsPerMin: getEnvAsInt("AUTH_REQUESTS_PER_MINUTE", 20),
		},
		Auth: AuthConfig{
			SigningKey:           signingKey,
			KeyID:                getEnv("JWT_KEY_ID", ""),
			Issuer:               getEnv("JWT_ISSUER", "sentinel"),
			Audience:             getEnv("JWT_AUDIENCE", "taskboard"),
			AccessTokenExpiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:   getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			DeviceTrustWindow:    getEnvAsDuration("DEVICE_TRUST_WINDOW", 30*24*time.Hour),
			EnforceDeviceBinding: getEnvAsBool("ENFORCE_DEVICE_BINDING", false),
			CleanupInterval:      getEnvAsDuration("LOCK_CLEANUP_INTERVAL", 1*time.Hour),
			PersistEvents:        getEnvAsBool("PERSIST_SECURITY_EVENTS", true),
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			TimingDelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
			CookieDomain:         getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:         getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:       getEnv("COOKIE_SAMESITE", "strict"),
		},
		Lockout: LockoutConfig{
			Login: LockoutRule{
				Threshold: getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
				Window:    getEnvAsDuration("LOGIN_ATTEMPT_WINDOW", 15*time.Minute),
				Block:     getEnvAsDuration("LOGIN_BLOCK_DURATION", 15*time.Minute),
			},
			MFA: LockoutRule{
				Threshold: getEnvAsInt("MFA_MAX_ATTEMPTS", 3),
				Window:    getEnvAsDuration("MFA_ATTEMPT_WINDOW", 5*time.Minute),
				Block:     getEnvAsDuration("MFA_BLOCK_DURATION", 30*time.Minute),
			},
			PasswordReset: LockoutRule{
				Threshold: getEnvAsInt("PASSWORD_RESET_MAX_ATTEMPTS", 3),
				Window:    getEnvAsDuration("PASSWORD_RESET_WINDOW", 1*time.Hour),
				Block:     getEnvAsDuration("PASSWORD_RESET_BLOCK_DURATION", 24*time.Hour),
			},
		},
		MFA: MFAConfig{
			EncryptionKey:  mfaKey,
			Issuer:         getEnv("MFA_ISSUER", "Taskboard"),
			SubmissionSkew: getEnvAsDuration("MFA_SUBMISSION_SKEW", 30*time.Second),
			ChallengeTTL:   getEnvAsDuration("MFA_CHALLENGE_TTL", 5*time.Minute),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate enforces the token lifetime ceilings and sane lockout rules
func (c *Config) validate() error {
	if c.Auth.AccessTokenExpiry <= 0 || c.Auth.AccessTokenExpiry > MaxAccessTokenExpiry {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRY must be in (0, %s], got %s", MaxAccessTokenExpiry, c.Auth.AccessTokenExpiry)
	}
	if c.Auth.RefreshTokenExpiry <= 0 || c.Auth.RefreshTokenExpiry > MaxRefreshTokenExpiry {
		return fmt.Errorf("REFRESH_TOKEN_EXPIRY must be in (0, %s], got %s", MaxRefreshTokenExpiry, c.Auth.RefreshTokenExpiry)
	}
	if c.Auth.RefreshTokenExpiry < c.Auth.AccessTokenExpiry {
		return fmt.Errorf("REFRESH_TOKEN_EXPIRY must not be shorter than ACCESS_TOKEN_EXPIRY")
	}
	if c.Auth.DeviceTrustWindow <= 0 {
		return fmt.Errorf("DEVICE_TRUST_WINDOW must be positive")
	}
	if c.Redis.OpTimeout <= 0 || c.Redis.OpTimeout > MaxStoreOpTimeout {
		return fmt.Errorf("REDIS_OP_TIMEOUT must be in (0, %s], got %s", MaxStoreOpTimeout, c.Redis.OpTimeout)
	}

	rules := map[string]LockoutRule{
		"LOGIN":          c.Lockout.Login,
		"MFA":            c.Lockout.MFA,
		"PASSWORD_RESET": c.Lockout.PasswordReset,
	}
	for name, r := range rules {
		if r.Threshold < 1 || r.Window <= 0 || r.Block <= 0 {
			return fmt.Errorf("%s lockout rule must have a positive threshold, window and block", name)
		}
	}

	return nil
}

// parseSigningKey decodes a base64 Ed25519 seed (32 bytes) or full private key (64 bytes)
func parseSigningKey(encoded string) (ed25519.PrivateKey, error) {
	if encoded == "" {
		return nil, fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("JWT_SIGNING_KEY must be base64: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("JWT_SIGNING_KEY must decode to %d or %d bytes (got %d)",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// parseMFAKey decodes the base64 AES-256 key used to seal TOTP secrets
func parseMFAKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(raw))
	}
	return raw, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
