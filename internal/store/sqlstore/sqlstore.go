// Package sqlstore implements store.Store on PostgreSQL or SQLite.
// Queries are built with squirrel so the placeholder style follows the driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/alexbotov/slotengine/internal/database"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

const (
	tableBalances     = "balances"
	tableTransactions = "transactions"
	tableSessions     = "game_sessions"
	tableSpins        = "spins"
	tableJackpots     = "jackpots"
	tableJackpotWins  = "jackpot_wins"
	tableAuditEvents  = "audit_events"
	tableSystemState  = "system_state"
	tableDisabled     = "disabled_games"
)

// runner is satisfied by *sql.DB and *sql.Tx
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Store is a SQL backed store.Store
type Store struct {
	db *database.DB
	sb sq.StatementBuilderType
}

var _ store.Store = (*Store)(nil)

// New wraps an open, migrated database
func New(db *database.DB) *Store {
	var format sq.PlaceholderFormat = sq.Question
	if db.Driver == database.DriverPostgres {
		format = sq.Dollar
	}
	return &Store{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(format),
	}
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(q runner) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func execQuery(ctx context.Context, q runner, b sq.Sqlizer) (sql.Result, error) {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, sqlStr, args...)
}

func queryRow(ctx context.Context, q runner, b sq.Sqlizer) (*sql.Row, error) {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.QueryRowContext(ctx, sqlStr, args...), nil
}

func queryRows(ctx context.Context, q runner, b sq.Sqlizer) (*sql.Rows, error) {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, sqlStr, args...)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var transactionColumns = []string{
	"id", "player_id", "type", "amount", "currency", "balance_before",
	"balance_after", "reference", "description", "created_at",
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var created int64
	err := row.Scan(&tx.ID, &tx.PlayerID, &tx.Type, &tx.Amount, &tx.Currency,
		&tx.BalanceBefore, &tx.BalanceAfter, &tx.Reference, &tx.Description, &created)
	if err != nil {
		return nil, err
	}
	tx.CreatedAt = fromMillis(created)
	return &tx, nil
}

func (s *Store) Balance(ctx context.Context, playerID, currency string) (int64, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select("amount").
		From(tableBalances).
		Where(sq.Eq{"player_id": playerID, "currency": currency}))
	if err != nil {
		return 0, err
	}

	var amount int64
	if err := row.Scan(&amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return amount, nil
}

func (s *Store) transactionByReference(ctx context.Context, q runner, reference string, typ domain.TransactionType) (*domain.Transaction, error) {
	row, err := queryRow(ctx, q, s.sb.Select(transactionColumns...).
		From(tableTransactions).
		Where(sq.Eq{"reference": reference, "type": typ}))
	if err != nil {
		return nil, err
	}
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err)
	}
	return tx, nil
}

func (s *Store) ApplyTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if existing, err := s.transactionByReference(ctx, s.db, tx.Reference, tx.Type); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	rec := *tx
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	delta := rec.Amount
	if rec.Type.IsDebit() {
		delta = -delta
	}
	now := millis(rec.CreatedAt)
	where := sq.Eq{"player_id": rec.PlayerID, "currency": rec.Currency}

	err := s.withTx(ctx, func(q runner) error {
		_, err := execQuery(ctx, q, s.sb.Insert(tableBalances).
			Columns("player_id", "currency", "amount", "updated_at").
			Values(rec.PlayerID, rec.Currency, 0, now).
			Suffix("ON CONFLICT (player_id, currency) DO NOTHING"))
		if err != nil {
			return fmt.Errorf("failed to create balance: %w", err)
		}

		// the guard keeps balances non-negative without a read-modify-write race
		res, err := execQuery(ctx, q, s.sb.Update(tableBalances).
			Set("amount", sq.Expr("amount + ?", delta)).
			Set("updated_at", now).
			Where(where).
			Where(sq.Expr("amount + ? >= 0", delta)))
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return store.ErrInsufficientFunds
		}

		row, err := queryRow(ctx, q, s.sb.Select("amount").From(tableBalances).Where(where))
		if err != nil {
			return err
		}
		if err := row.Scan(&rec.BalanceAfter); err != nil {
			return err
		}
		rec.BalanceBefore = rec.BalanceAfter - delta

		_, err = execQuery(ctx, q, s.sb.Insert(tableTransactions).
			Columns(transactionColumns...).
			Values(rec.ID, rec.PlayerID, rec.Type, rec.Amount, rec.Currency,
				rec.BalanceBefore, rec.BalanceAfter, rec.Reference, rec.Description, now))
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, err
		}
		// a concurrent writer may have taken the idempotency key first
		if existing, lookupErr := s.transactionByReference(ctx, s.db, tx.Reference, tx.Type); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to apply transaction: %w", err)
	}
	return &rec, nil
}

func (s *Store) Transactions(ctx context.Context, playerID string, limit int) ([]*domain.Transaction, error) {
	rows, err := queryRows(ctx, s.db, s.sb.Select(transactionColumns...).
		From(tableTransactions).
		Where(sq.Eq{"player_id": playerID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(store.Limit(limit))))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
