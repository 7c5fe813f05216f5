// Package audit records significant events of the slot engine.
// Every event is persisted through the store and mirrored to the logger.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event types
const (
	EventGameSessionStart   = "game_session_start"
	EventGameSessionEnd     = "game_session_end"
	EventSpinComplete       = "spin_complete"
	EventLargeWin           = "large_win"
	EventFreeSpinsAwarded   = "free_spins_awarded"
	EventDeposit            = "deposit"
	EventJackpotWon         = "jackpot_won"
	EventJackpotUnconfirmed = "jackpot_award_unconfirmed"
	EventCreditUnconfirmed  = "credit_unconfirmed"
	EventSpinUnrecorded     = "spin_unrecorded"
	EventReconciled         = "reconciled"
	EventGamingDisabled     = "gaming_disabled"
	EventGamingEnabled      = "gaming_enabled"
	EventGameDisabled       = "game_disabled"
	EventGameEnabled        = "game_enabled"
	EventSystemError        = "system_error"
	EventRNGHealthCheck     = "rng_health_check"
)

// Service provides audit logging functionality
type Service struct {
	store store.AuditStore
	log   *zap.Logger
}

// New creates a new audit service
func New(s store.AuditStore, log *zap.Logger) *Service {
	return &Service{store: s, log: log.Named("audit")}
}

// LogEvent records a significant event
func (s *Service) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event", event.Type),
		zap.String("component", event.Component),
	}
	if event.PlayerID != nil {
		fields = append(fields, zap.String("player_id", *event.PlayerID))
	}
	if event.SessionID != nil {
		fields = append(fields, zap.String("session_id", *event.SessionID))
	}
	if len(event.Data) > 0 {
		fields = append(fields, zap.ByteString("data", event.Data))
	}

	switch event.Severity {
	case domain.SeverityCritical, domain.SeverityError:
		s.log.Error(event.Description, fields...)
	case domain.SeverityWarning:
		s.log.Warn(event.Description, fields...)
	default:
		s.log.Info(event.Description, fields...)
	}

	if err := s.store.SaveEvent(ctx, event); err != nil {
		s.log.Error("failed to persist audit event", zap.String("event_id", event.ID), zap.Error(err))
		return err
	}
	return nil
}

// Log is a convenience method for logging events
func (s *Service) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error {
	event := &domain.AuditEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Component:   "engine",
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err == nil {
			event.Data = jsonData
		}
	}

	for _, opt := range opts {
		opt(event)
	}

	return s.LogEvent(ctx, event)
}

// EventOption is a functional option for configuring audit events
type EventOption func(*domain.AuditEvent)

// WithPlayer sets the player ID for the event
func WithPlayer(playerID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.PlayerID = &playerID
	}
}

// WithSession sets the session ID for the event
func WithSession(sessionID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.SessionID = &sessionID
	}
}

// WithComponent sets the component for the event
func WithComponent(component string) EventOption {
	return func(e *domain.AuditEvent) {
		e.Component = component
	}
}

// GetEvents retrieves audit events with optional filtering
func (s *Service) GetEvents(ctx context.Context, filter *store.EventFilter) ([]*domain.AuditEvent, error) {
	return s.store.ListEvents(ctx, filter)
}
