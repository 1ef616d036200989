//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase starts Postgres in a container and applies the embedded migrations
func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("sentinel"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, database.Migrate(ctx, pool, logger))

	return &database.DB{Pool: pool}
}

func seedAccount(t *testing.T, repo *AccountRepository, email string) *models.Account {
	t.Helper()
	a, err := repo.Create(context.Background(), &models.Account{
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2U",
		Role:         models.RoleMember,
	})
	require.NoError(t, err)
	return a
}

func TestAccountRepository(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	t.Run("create and lookup is case-insensitive", func(t *testing.T) {
		a := seedAccount(t, repo, "Alice@Example.com")
		assert.Equal(t, "alice@example.com", a.Email)
		assert.Equal(t, models.RoleMember, a.Role)
		assert.Equal(t, models.DefaultPermissions(models.RoleMember), a.Permissions)

		got, err := repo.GetByEmail(ctx, "ALICE@example.COM")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)

		byID, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Email, byID.Email)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		seedAccount(t, repo, "dup@example.com")
		_, err := repo.Create(ctx, &models.Account{Email: "DUP@example.com", PasswordHash: "x", Role: models.RoleViewer})
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = repo.GetByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("failure counter locks at threshold and resets on success", func(t *testing.T) {
		a := seedAccount(t, repo, "bob@example.com")
		now := time.Now().UTC().Truncate(time.Microsecond)
		lockUntil := now.Add(15 * time.Minute)
		windowStart := now.Add(-15 * time.Minute)

		for i := 1; i <= 4; i++ {
			count, locked, err := repo.RecordLoginFailure(ctx, a.ID, 5, windowStart, lockUntil, now)
			require.NoError(t, err)
			assert.Equal(t, i, count)
			assert.Nil(t, locked)
		}

		count, locked, err := repo.RecordLoginFailure(ctx, a.ID, 5, windowStart, lockUntil, now)
		require.NoError(t, err)
		assert.Equal(t, 5, count)
		require.NotNil(t, locked)
		assert.WithinDuration(t, lockUntil, *locked, time.Millisecond)

		require.NoError(t, repo.RecordLoginSuccess(ctx, a.ID, now))
		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.FailedLoginCount)
		assert.Nil(t, got.LockedUntil)
		require.NotNil(t, got.LastLoginAt)

		count, _, err = repo.RecordLoginFailure(ctx, a.ID, 5, windowStart, lockUntil, now)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "counting restarts after a success")
	})

	t.Run("lapsed lock restarts counting", func(t *testing.T) {
		a := seedAccount(t, repo, "carol@example.com")
		past := time.Now().Add(-time.Hour).UTC()

		_, _, err := repo.RecordLoginFailure(ctx, a.ID, 1, past.Add(-time.Minute), past, past)
		require.NoError(t, err)

		count, locked, err := repo.RecordLoginFailure(ctx, a.ID, 5, time.Now().Add(-15*time.Minute), time.Now().Add(time.Hour), time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Nil(t, locked)
	})

	t.Run("failure after the window restarts counting", func(t *testing.T) {
		a := seedAccount(t, repo, "cora@example.com")
		window := 15 * time.Minute
		start := time.Now().UTC().Truncate(time.Microsecond)

		for i := 0; i < 4; i++ {
			_, _, err := repo.RecordLoginFailure(ctx, a.ID, 5, start.Add(-window), start.Add(window), start)
			require.NoError(t, err)
		}

		later := start.Add(window + time.Minute)
		count, locked, err := repo.RecordLoginFailure(ctx, a.ID, 5, later.Add(-window), later.Add(window), later)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Nil(t, locked)

		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastFailedAt)
		assert.WithinDuration(t, later, *got.LastFailedAt, time.Millisecond)
	})

	t.Run("enable mfa stores the secret", func(t *testing.T) {
		a := seedAccount(t, repo, "dave@example.com")

		assert.ErrorIs(t, repo.EnableMFA(ctx, a.ID, nil), models.ErrBadRequest, "cannot enable without a secret")

		secret := &models.SealedSecret{Nonce: []byte("123456789012"), Ciphertext: []byte("sealed")}
		require.NoError(t, repo.EnableMFA(ctx, a.ID, secret))

		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, got.MFAEnabled)
		require.NotNil(t, got.MFASecret)
		assert.Equal(t, secret.Ciphertext, got.MFASecret.Ciphertext)
	})

	t.Run("clear lock and sweep", func(t *testing.T) {
		a := seedAccount(t, repo, "erin@example.com")
		b := seedAccount(t, repo, "frank@example.com")
		now := time.Now()

		_, _, err := repo.RecordLoginFailure(ctx, a.ID, 1, now.Add(-time.Minute), now.Add(time.Hour), now)
		require.NoError(t, err)
		require.NoError(t, repo.ClearLock(ctx, a.ID))
		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LockedUntil)

		_, _, err = repo.RecordLoginFailure(ctx, b.ID, 1, now.Add(-3*time.Minute), now.Add(-time.Minute), now.Add(-2*time.Minute))
		require.NoError(t, err)
		n, err := repo.ClearExpiredLocks(ctx, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		assert.ErrorIs(t, repo.ClearLock(ctx, "00000000-0000-0000-0000-000000000000"), models.ErrNotFound)
	})

	t.Run("update password", func(t *testing.T) {
		a := seedAccount(t, repo, "gina@example.com")
		require.NoError(t, repo.UpdatePassword(ctx, a.ID, "new-hash"))
		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
	})
}
