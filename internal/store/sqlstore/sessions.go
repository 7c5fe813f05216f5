package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

var sessionColumns = []string{
	"id", "player_id", "game_id", "currency", "status", "total_bet", "total_win",
	"spin_count", "free_spins_remaining", "free_spin_bet", "started_at", "ended_at", "updated_at",
}

func scanSession(row scanner) (*domain.Session, error) {
	var sess domain.Session
	var started, updated int64
	var ended sql.NullInt64
	err := row.Scan(&sess.ID, &sess.PlayerID, &sess.GameID, &sess.Currency, &sess.Status,
		&sess.TotalBet, &sess.TotalWin, &sess.SpinCount, &sess.FreeSpinsRemaining, &sess.FreeSpinBet,
		&started, &ended, &updated)
	if err != nil {
		return nil, err
	}
	sess.StartedAt = fromMillis(started)
	sess.EndedAt = timePtr(ended)
	sess.UpdatedAt = fromMillis(updated)
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	_, err := execQuery(ctx, s.db, s.sb.Insert(tableSessions).
		Columns(sessionColumns...).
		Values(sess.ID, sess.PlayerID, sess.GameID, sess.Currency, sess.Status,
			sess.TotalBet, sess.TotalWin, sess.SpinCount, sess.FreeSpinsRemaining, sess.FreeSpinBet,
			millis(sess.StartedAt), nullMillis(sess.EndedAt), millis(sess.UpdatedAt)))
	if err != nil {
		return fmt.Errorf("failed to create game session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(sessionColumns...).
		From(tableSessions).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session) error {
	res, err := execQuery(ctx, s.db, s.sb.Update(tableSessions).
		Set("status", sess.Status).
		Set("total_bet", sess.TotalBet).
		Set("total_win", sess.TotalWin).
		Set("spin_count", sess.SpinCount).
		Set("free_spins_remaining", sess.FreeSpinsRemaining).
		Set("free_spin_bet", sess.FreeSpinBet).
		Set("ended_at", nullMillis(sess.EndedAt)).
		Set("updated_at", millis(sess.UpdatedAt)).
		Where(sq.Eq{"id": sess.ID}))
	if err != nil {
		return fmt.Errorf("failed to update game session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

var spinColumns = []string{
	"spin_id", "session_id", "player_id", "game_id", "currency", "bet", "base_win",
	"total_win", "free_spin", "status", "outcome", "created_at", "updated_at",
}

func scanSpin(row scanner) (*domain.SpinRecord, error) {
	var rec domain.SpinRecord
	var freeSpin int
	var outcome string
	var created, updated int64
	err := row.Scan(&rec.SpinID, &rec.SessionID, &rec.PlayerID, &rec.GameID, &rec.Currency,
		&rec.Bet, &rec.BaseWin, &rec.TotalWin, &freeSpin, &rec.Status, &outcome,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	rec.FreeSpin = freeSpin != 0
	rec.Outcome = []byte(outcome)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return &rec, nil
}

func (s *Store) SaveSpin(ctx context.Context, rec *domain.SpinRecord) error {
	_, err := execQuery(ctx, s.db, s.sb.Insert(tableSpins).
		Columns(spinColumns...).
		Values(rec.SpinID, rec.SessionID, rec.PlayerID, rec.GameID, rec.Currency,
			rec.Bet, rec.BaseWin, rec.TotalWin, boolInt(rec.FreeSpin), rec.Status,
			string(rec.Outcome), millis(rec.CreatedAt), millis(rec.UpdatedAt)).
		Suffix(`ON CONFLICT (spin_id) DO UPDATE SET
			total_win = excluded.total_win,
			status = excluded.status,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("failed to save spin: %w", err)
	}
	return nil
}

func (s *Store) GetSpin(ctx context.Context, spinID string) (*domain.SpinRecord, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(spinColumns...).
		From(tableSpins).
		Where(sq.Eq{"spin_id": spinID}))
	if err != nil {
		return nil, err
	}
	rec, err := scanSpin(row)
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func (s *Store) listSpins(ctx context.Context, where sq.Sqlizer, limit uint64) ([]*domain.SpinRecord, error) {
	q := s.sb.Select(spinColumns...).
		From(tableSpins).
		Where(where).
		OrderBy("created_at DESC", "spin_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	rows, err := queryRows(ctx, s.db, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SpinRecord
	for rows.Next() {
		rec, err := scanSpin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListSpins(ctx context.Context, sessionID string, limit int) ([]*domain.SpinRecord, error) {
	return s.listSpins(ctx, sq.Eq{"session_id": sessionID}, uint64(store.Limit(limit)))
}

func (s *Store) SpinsByStatus(ctx context.Context, status domain.SpinStatus) ([]*domain.SpinRecord, error) {
	return s.listSpins(ctx, sq.Eq{"status": status}, 0)
}
