//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityEventRepository(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewSecurityEventRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo.Emit(ctx, pkglogger.SecurityEvent{
		EventType: pkglogger.EventLoginFailure,
		Severity:  pkglogger.SeverityWarning,
		Outcome:   pkglogger.OutcomeFailure,
		UserID:    "user-1",
		IPAddress: "203.0.113.7",
		Reason:    "invalid_password",
		Timestamp: base,
		Metadata:  map[string]string{"device_id": "laptop-1"},
	})
	repo.Emit(ctx, pkglogger.SecurityEvent{
		EventType: pkglogger.EventLoginSuccess,
		Severity:  pkglogger.SeverityInfo,
		Outcome:   pkglogger.OutcomeSuccess,
		UserID:    "user-1",
		Timestamp: base.Add(time.Minute),
	})
	repo.Emit(ctx, pkglogger.SecurityEvent{
		EventType: pkglogger.EventLoginFailure,
		Severity:  pkglogger.SeverityWarning,
		Outcome:   pkglogger.OutcomeFailure,
		Timestamp: base,
	})

	events, err := repo.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, pkglogger.EventLoginSuccess, events[0].EventType)
	assert.Nil(t, events[0].IPAddress)
	assert.Empty(t, events[0].Metadata)

	failure := events[1]
	assert.Equal(t, "warning", failure.Severity)
	require.NotNil(t, failure.Reason)
	assert.Equal(t, "invalid_password", *failure.Reason)
	assert.Equal(t, "laptop-1", failure.Metadata["device_id"])
	assert.True(t, base.Equal(failure.OccurredAt))

	none, err := repo.ListByUser(ctx, "user-2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
