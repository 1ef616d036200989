package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// securityEventWriteTimeout bounds one insert from the event dispatcher
const securityEventWriteTimeout = 2 * time.Second

const securityEventColumns = `id, event_type, severity, outcome, user_id, ip_address, user_agent, reason, metadata, occurred_at`

// SecurityEventRepository persists security events. It is also an event sink,
// so it can sit behind the dispatcher next to the structured log.
type SecurityEventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB, logger *slog.Logger) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool, logger: logger}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEventRecord, error) {
	var e models.SecurityEventRecord
	err := row.Scan(
		&e.ID, &e.EventType, &e.Severity, &e.Outcome, &e.UserID,
		&e.IPAddress, &e.UserAgent, &e.Reason, &e.Metadata, &e.OccurredAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

// Create inserts one event
func (r *SecurityEventRepository) Create(ctx context.Context, e *models.SecurityEventRecord) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	query := `
		INSERT INTO security_events (event_type, severity, outcome, user_id, ip_address, user_agent, reason, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		e.EventType, e.Severity, e.Outcome, e.UserID,
		e.IPAddress, e.UserAgent, e.Reason, metadata, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByUser returns the newest events for an account, newest first
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEventRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + securityEventColumns + `
		FROM security_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return scanSecurityEventRows(rows)
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEventRecord, error) {
	defer rows.Close()

	events := make([]*models.SecurityEventRecord, 0)
	for rows.Next() {
		e, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return events, nil
}

// Emit implements pkglogger.EventSink. Write failures are logged, never returned.
func (r *SecurityEventRepository) Emit(ctx context.Context, event pkglogger.SecurityEvent) {
	ctx, cancel := context.WithTimeout(ctx, securityEventWriteTimeout)
	defer cancel()

	occurred := event.Timestamp
	if occurred.IsZero() {
		occurred = time.Now()
	}

	err := r.Create(ctx, &models.SecurityEventRecord{
		EventType:  event.EventType,
		Severity:   string(event.Severity),
		Outcome:    string(event.Outcome),
		UserID:     optional(event.UserID),
		IPAddress:  optional(event.IPAddress),
		UserAgent:  optional(event.UserAgent),
		Reason:     optional(event.Reason),
		Metadata:   event.Metadata,
		OccurredAt: occurred,
	})
	if err != nil {
		r.logger.Error("failed to persist security event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
