package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, email, password_hash, role, permissions, mfa_enabled,
	mfa_secret_nonce, mfa_secret_ciphertext, failed_login_count, last_failed_login_at,
	locked_until, last_login_at, created_at, updated_at`

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccountRow maps nullable columns and the role name onto an Account
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var (
		a         models.Account
		role      string
		nonce     []byte
		sealed    []byte
		permsList []string
	)

	err := scanner.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &role, &permsList, &a.MFAEnabled,
		&nonce, &sealed, &a.FailedLoginCount, &a.LastFailedAt, &a.LockedUntil,
		&a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	a.Role, err = models.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.Permissions = permsList
	if len(nonce) > 0 && len(sealed) > 0 {
		a.MFASecret = &models.SealedSecret{Nonce: nonce, Ciphertext: sealed}
	}

	return &a, nil
}

// normalizeEmail is the canonical form used for storage and lookup
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail looks up an account case-insensitively
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, normalizeEmail(email)))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Permissions == nil {
		account.Permissions = models.DefaultPermissions(account.Role)
	}

	now := time.Now()
	query := `
		INSERT INTO accounts (id, email, password_hash, role, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, normalizeEmail(account.Email), account.PasswordHash,
		account.Role.String(), account.Permissions, now,
	))
}

// RecordLoginFailure counts a failed login and returns the new count.
// Counting restarts at 1 when the previous failure is at or before windowStart
// or a lock has lapsed. Reaching threshold locks the account until lockUntil.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, windowStart, lockUntil, now time.Time) (int, *time.Time, error) {
	query := `
		WITH prev AS (
			SELECT id,
				(locked_until IS NOT NULL AND locked_until <= $5)
				OR last_failed_login_at IS NULL
				OR last_failed_login_at <= $3 AS restart
			FROM accounts
			WHERE id = $1
			FOR UPDATE
		)
		UPDATE accounts a SET
			failed_login_count = CASE
				WHEN prev.restart THEN 1
				ELSE a.failed_login_count + 1
			END,
			locked_until = CASE
				WHEN prev.restart AND $2 <= 1 THEN $4
				WHEN prev.restart THEN NULL
				WHEN a.failed_login_count + 1 >= $2 THEN $4
				ELSE a.locked_until
			END,
			last_failed_login_at = $5,
			updated_at = $5
		FROM prev
		WHERE a.id = prev.id
		RETURNING a.failed_login_count, a.locked_until
	`

	var (
		count       int
		lockedUntil *time.Time
	)
	err := r.pool.QueryRow(ctx, query, id, threshold, windowStart, lockUntil, now).Scan(&count, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}
	return count, lockedUntil, nil
}

// RecordLoginSuccess resets the failure counter, clears any lock and stamps the login time
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE accounts
		SET failed_login_count = 0, last_failed_login_at = NULL, locked_until = NULL,
			last_login_at = $2, updated_at = $2
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, at)
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id, passwordHash)
}

// EnableMFA replaces the account's secret with a confirmed one and turns MFA on
func (r *AccountRepository) EnableMFA(ctx context.Context, id string, secret *models.SealedSecret) error {
	if secret == nil || len(secret.Nonce) == 0 || len(secret.Ciphertext) == 0 {
		return models.ErrBadRequest
	}
	query := `
		UPDATE accounts
		SET mfa_secret_nonce = $2, mfa_secret_ciphertext = $3, mfa_enabled = TRUE, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, secret.Nonce, secret.Ciphertext)
}

// ClearLock lifts a persisted lock and resets the failure counter
func (r *AccountRepository) ClearLock(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET failed_login_count = 0, last_failed_login_at = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id)
}

// ClearExpiredLocks resets every account whose lock lapsed before now
func (r *AccountRepository) ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE accounts SET failed_login_count = 0, last_failed_login_at = NULL, locked_until = NULL, updated_at = $1
		WHERE locked_until IS NOT NULL AND locked_until <= $1
	`
	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

func (r *AccountRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
