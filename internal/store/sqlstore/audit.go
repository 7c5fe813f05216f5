package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

var auditColumns = []string{
	"id", "type", "severity", "timestamp", "player_id", "session_id",
	"description", "data", "component",
}

func (s *Store) SaveEvent(ctx context.Context, e *domain.AuditEvent) error {
	_, err := execQuery(ctx, s.db, s.sb.Insert(tableAuditEvents).
		Columns(auditColumns...).
		Values(e.ID, e.Type, e.Severity, millis(e.Timestamp), e.PlayerID, e.SessionID,
			e.Description, string(e.Data), e.Component))
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, filter *store.EventFilter) ([]*domain.AuditEvent, error) {
	q := s.sb.Select(auditColumns...).From(tableAuditEvents)

	limit := uint64(100)
	if filter != nil {
		if filter.PlayerID != "" {
			q = q.Where(sq.Eq{"player_id": filter.PlayerID})
		}
		if filter.Type != "" {
			q = q.Where(sq.Eq{"type": filter.Type})
		}
		if !filter.From.IsZero() {
			q = q.Where(sq.GtOrEq{"timestamp": millis(filter.From)})
		}
		if !filter.To.IsZero() {
			q = q.Where(sq.LtOrEq{"timestamp": millis(filter.To)})
		}
		if filter.Limit > 0 {
			limit = uint64(filter.Limit)
		}
	}
	q = q.OrderBy("timestamp DESC").Limit(limit)

	rows, err := queryRows(ctx, s.db, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		var playerID, sessionID, data sql.NullString
		var ts int64

		err := rows.Scan(&event.ID, &event.Type, &event.Severity, &ts,
			&playerID, &sessionID, &event.Description, &data, &event.Component)
		if err != nil {
			return nil, err
		}

		event.Timestamp = fromMillis(ts)
		if playerID.Valid {
			event.PlayerID = &playerID.String
		}
		if sessionID.Valid {
			event.SessionID = &sessionID.String
		}
		if data.Valid && data.String != "" {
			event.Data = []byte(data.String)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

const keyGamingEnabled = "gaming_enabled"

func (s *Store) SetGamingEnabled(ctx context.Context, enabled bool, reason, by string, at time.Time) error {
	value := "true"
	if !enabled {
		value = "false"
	}
	_, err := execQuery(ctx, s.db, s.sb.Insert(tableSystemState).
		Columns("key", "value", "reason", "updated_at", "updated_by").
		Values(keyGamingEnabled, value, reason, millis(at), by).
		Suffix(`ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			reason = excluded.reason,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`))
	if err != nil {
		return fmt.Errorf("failed to persist gaming state: %w", err)
	}
	return nil
}

func (s *Store) DisableGame(ctx context.Context, gameID, reason, by string, at time.Time) error {
	_, err := execQuery(ctx, s.db, s.sb.Insert(tableDisabled).
		Columns("game_id", "reason", "disabled_at", "disabled_by").
		Values(gameID, reason, millis(at), by).
		Suffix(`ON CONFLICT (game_id) DO UPDATE SET
			reason = excluded.reason,
			disabled_at = excluded.disabled_at,
			disabled_by = excluded.disabled_by`))
	if err != nil {
		return fmt.Errorf("failed to persist game state: %w", err)
	}
	return nil
}

func (s *Store) EnableGame(ctx context.Context, gameID string) error {
	_, err := execQuery(ctx, s.db, s.sb.Delete(tableDisabled).Where(sq.Eq{"game_id": gameID}))
	if err != nil {
		return fmt.Errorf("failed to persist game state: %w", err)
	}
	return nil
}

func (s *Store) LoadControlState(ctx context.Context) (*store.ControlState, error) {
	state := &store.ControlState{
		GamingEnabled: true,
		DisabledGames: make(map[string]string),
	}

	row, err := queryRow(ctx, s.db, s.sb.Select("value", "reason", "updated_at", "updated_by").
		From(tableSystemState).
		Where(sq.Eq{"key": keyGamingEnabled}))
	if err != nil {
		return nil, err
	}
	var value, reason, by string
	var at int64
	switch err := row.Scan(&value, &reason, &at, &by); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	case value == "false":
		t := fromMillis(at)
		state.GamingEnabled = false
		state.DisabledAt = &t
		state.DisabledBy = by
		state.DisabledReason = reason
	}

	rows, err := queryRows(ctx, s.db, s.sb.Select("game_id", "reason").From(tableDisabled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var gameID, why string
		if err := rows.Scan(&gameID, &why); err != nil {
			return nil, err
		}
		state.DisabledGames[gameID] = why
	}
	return state, rows.Err()
}
