package models

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEventRecord is a persisted security event
type SecurityEventRecord struct {
	ID         uuid.UUID         `json:"id"`
	EventType  string            `json:"event_type"`
	Severity   string            `json:"severity"`
	Outcome    string            `json:"outcome"`
	UserID     *string           `json:"user_id,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	Reason     *string           `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata"`
	OccurredAt time.Time         `json:"occurred_at"`
}
