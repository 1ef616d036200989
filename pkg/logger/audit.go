package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Security event types emitted at each authentication decision point
const (
	EventLoginSuccess    = "login_success"
	EventLoginFailure    = "login_failure"
	EventLoginLocked     = "login_locked"
	EventMFARequired     = "mfa_required"
	EventMFASuccess      = "mfa_success"
	EventMFAFailure      = "mfa_failure"
	EventMFAEnrolled     = "mfa_enrolled"
	EventTokenRefresh    = "token_refresh"
	EventRefreshRejected = "token_refresh_rejected"
	EventLogout          = "logout"
	EventPasswordChange  = "password_change"
	EventAccountUnlocked = "account_unlocked"
	EventStoreFailure    = "store_unavailable"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeChallenge Outcome = "challenge"
)

// SecurityEvent is one auth-relevant fact. It never carries passwords, codes or tokens.
type SecurityEvent struct {
	EventType string
	Severity  Severity
	UserID    string
	IPAddress string
	UserAgent string
	Outcome   Outcome
	Reason    string
	Timestamp time.Time
	Metadata  map[string]string
}

// EventSink receives security events
type EventSink interface {
	Emit(ctx context.Context, event SecurityEvent)
}

// AuditLogger writes security events as structured slog records
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Emit writes the event synchronously
func (al *AuditLogger) Emit(ctx context.Context, event SecurityEvent) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", event.EventType),
		slog.String("severity", string(event.Severity)),
		slog.String("outcome", string(event.Outcome)),
		slog.String("timestamp", ts.UTC().Format(time.RFC3339Nano)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// MultiSink delivers each event to every sink in order
type MultiSink []EventSink

// Emit forwards the event to all sinks
func (m MultiSink) Emit(ctx context.Context, event SecurityEvent) {
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}

// Dispatcher forwards events to a sink on a background goroutine.
// Emit never blocks: when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	sink      EventSink
	ch        chan SecurityEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. Call Close on shutdown to flush.
func NewDispatcher(sink EventSink, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}

	d := &Dispatcher{
		sink: sink,
		ch:   make(chan SecurityEvent, bufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues the event, stamping it with the decision time if unset
func (d *Dispatcher) Emit(_ context.Context, event SecurityEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close stops accepting events and drains what is queued
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the buffer was full
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
