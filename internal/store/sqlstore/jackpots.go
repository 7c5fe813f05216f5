package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

var jackpotColumns = []string{
	"id", "game_id", "type", "amount", "currency", "contribution_rate", "min_bet",
	"seed_amount", "total_contributions", "trigger_probability", "growth_per_tick",
	"active", "last_won_at", "last_winner", "pending_win_id", "updated_at",
}

func scanJackpot(row scanner) (*domain.Jackpot, error) {
	var j domain.Jackpot
	var amount, rate, total string
	var active int
	var lastWon sql.NullInt64
	var updated int64
	err := row.Scan(&j.ID, &j.GameID, &j.Type, &amount, &j.Currency, &rate, &j.MinBet,
		&j.SeedAmount, &total, &j.TriggerProbability, &j.GrowthPerTick,
		&active, &lastWon, &j.LastWinner, &j.PendingWinID, &updated)
	if err != nil {
		return nil, err
	}
	if j.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("jackpot %s amount: %w", j.ID, err)
	}
	if j.ContributionRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("jackpot %s contribution rate: %w", j.ID, err)
	}
	if j.TotalContributions, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("jackpot %s contributions: %w", j.ID, err)
	}
	j.Active = active != 0
	j.LastWonAt = timePtr(lastWon)
	j.UpdatedAt = fromMillis(updated)
	return &j, nil
}

func (s *Store) EnsureJackpot(ctx context.Context, j *domain.Jackpot) (*domain.Jackpot, error) {
	_, err := execQuery(ctx, s.db, s.sb.Insert(tableJackpots).
		Columns(jackpotColumns...).
		Values(j.ID, j.GameID, j.Type, j.Amount.String(), j.Currency, j.ContributionRate.String(),
			j.MinBet, j.SeedAmount, j.TotalContributions.String(), j.TriggerProbability,
			j.GrowthPerTick, boolInt(j.Active), nullMillis(j.LastWonAt), j.LastWinner,
			j.PendingWinID, millis(j.UpdatedAt)).
		Suffix("ON CONFLICT (game_id) DO NOTHING"))
	if err != nil {
		return nil, fmt.Errorf("failed to create jackpot: %w", err)
	}
	return s.GetJackpot(ctx, j.GameID)
}

func (s *Store) GetJackpot(ctx context.Context, gameID string) (*domain.Jackpot, error) {
	return s.getJackpot(ctx, s.db, gameID)
}

func (s *Store) getJackpot(ctx context.Context, q runner, gameID string) (*domain.Jackpot, error) {
	row, err := queryRow(ctx, q, s.sb.Select(jackpotColumns...).
		From(tableJackpots).
		Where(sq.Eq{"game_id": gameID}))
	if err != nil {
		return nil, err
	}
	j, err := scanJackpot(row)
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

func (s *Store) ListJackpots(ctx context.Context) ([]*domain.Jackpot, error) {
	rows, err := queryRows(ctx, s.db, s.sb.Select(jackpotColumns...).
		From(tableJackpots).
		OrderBy("game_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Jackpot
	for rows.Next() {
		j, err := scanJackpot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) saveJackpot(ctx context.Context, q runner, j *domain.Jackpot) error {
	res, err := execQuery(ctx, q, s.sb.Update(tableJackpots).
		Set("amount", j.Amount.String()).
		Set("total_contributions", j.TotalContributions.String()).
		Set("active", boolInt(j.Active)).
		Set("last_won_at", nullMillis(j.LastWonAt)).
		Set("last_winner", j.LastWinner).
		Set("pending_win_id", j.PendingWinID).
		Set("updated_at", millis(j.UpdatedAt)).
		Where(sq.Eq{"game_id": j.GameID}))
	if err != nil {
		return fmt.Errorf("failed to save jackpot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveJackpot(ctx context.Context, j *domain.Jackpot) error {
	return s.saveJackpot(ctx, s.db, j)
}

var winColumns = []string{
	"id", "jackpot_id", "game_id", "player_id", "spin_id", "amount", "currency",
	"status", "created_at", "confirmed_at",
}

func scanWin(row scanner) (*domain.JackpotWin, error) {
	var w domain.JackpotWin
	var created int64
	var confirmed sql.NullInt64
	err := row.Scan(&w.ID, &w.JackpotID, &w.GameID, &w.PlayerID, &w.SpinID, &w.Amount,
		&w.Currency, &w.Status, &created, &confirmed)
	if err != nil {
		return nil, err
	}
	w.CreatedAt = fromMillis(created)
	w.ConfirmedAt = timePtr(confirmed)
	return &w, nil
}

func (s *Store) winBySpin(ctx context.Context, q runner, spinID string) (*domain.JackpotWin, error) {
	row, err := queryRow(ctx, q, s.sb.Select(winColumns...).
		From(tableJackpotWins).
		Where(sq.Eq{"spin_id": spinID}))
	if err != nil {
		return nil, err
	}
	w, err := scanWin(row)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (s *Store) BeginJackpotAward(ctx context.Context, j *domain.Jackpot, w *domain.JackpotWin) error {
	err := s.withTx(ctx, func(q runner) error {
		if _, err := s.winBySpin(ctx, q, w.SpinID); err == nil {
			return store.ErrConflict
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		_, err := execQuery(ctx, q, s.sb.Insert(tableJackpotWins).
			Columns(winColumns...).
			Values(w.ID, w.JackpotID, w.GameID, w.PlayerID, w.SpinID, w.Amount, w.Currency,
				w.Status, millis(w.CreatedAt), nullMillis(w.ConfirmedAt)))
		if err != nil {
			return fmt.Errorf("failed to record jackpot win: %w", err)
		}
		return s.saveJackpot(ctx, q, j)
	})
	if err != nil && !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
		// unique index on spin_id lost a race
		if _, lookupErr := s.winBySpin(ctx, s.db, w.SpinID); lookupErr == nil {
			return store.ErrConflict
		}
	}
	return err
}

func (s *Store) SettleJackpotAward(ctx context.Context, j *domain.Jackpot, w *domain.JackpotWin) error {
	return s.withTx(ctx, func(q runner) error {
		res, err := execQuery(ctx, q, s.sb.Update(tableJackpotWins).
			Set("status", w.Status).
			Set("confirmed_at", nullMillis(w.ConfirmedAt)).
			Where(sq.Eq{"id": w.ID}))
		if err != nil {
			return fmt.Errorf("failed to confirm jackpot win: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return s.saveJackpot(ctx, q, j)
	})
}

func (s *Store) GetJackpotWin(ctx context.Context, id string) (*domain.JackpotWin, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(winColumns...).
		From(tableJackpotWins).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	w, err := scanWin(row)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (s *Store) PendingJackpotWins(ctx context.Context) ([]*domain.JackpotWin, error) {
	rows, err := queryRows(ctx, s.db, s.sb.Select(winColumns...).
		From(tableJackpotWins).
		Where(sq.Eq{"status": domain.JackpotWinPending}).
		OrderBy("created_at"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.JackpotWin
	for rows.Next() {
		w, err := scanWin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
