// Package store defines the persistence boundary of the slot engine.
//
// Engine code depends only on these interfaces. The memory package is the
// in-process fake used by tests; sqlstore is the durable implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alexbotov/slotengine/internal/domain"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrConflict          = errors.New("record already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// LedgerStore holds player balances and the transaction log
type LedgerStore interface {
	// Balance returns 0 for a player/currency that has never transacted
	Balance(ctx context.Context, playerID, currency string) (int64, error)

	// ApplyTransaction atomically moves the balance and records tx.
	// Amount is always positive; Type decides the direction. If an entry
	// with the same (Reference, Type) exists it is returned unchanged and
	// no balance change happens. Debits that would go negative fail with
	// ErrInsufficientFunds.
	ApplyTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)

	Transactions(ctx context.Context, playerID string, limit int) ([]*domain.Transaction, error)
}

// SessionStore persists play sessions
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error
}

// SpinStore persists the spin audit trail
type SpinStore interface {
	// SaveSpin inserts or replaces the record keyed by SpinID
	SaveSpin(ctx context.Context, rec *domain.SpinRecord) error
	GetSpin(ctx context.Context, spinID string) (*domain.SpinRecord, error)
	// ListSpins returns the newest spins of a session first
	ListSpins(ctx context.Context, sessionID string, limit int) ([]*domain.SpinRecord, error)
	SpinsByStatus(ctx context.Context, status domain.SpinStatus) ([]*domain.SpinRecord, error)
}

// JackpotStore persists jackpot pools and their awards
type JackpotStore interface {
	// EnsureJackpot inserts j if its game has no jackpot yet and returns
	// the persisted record either way
	EnsureJackpot(ctx context.Context, j *domain.Jackpot) (*domain.Jackpot, error)
	GetJackpot(ctx context.Context, gameID string) (*domain.Jackpot, error)
	ListJackpots(ctx context.Context) ([]*domain.Jackpot, error)
	SaveJackpot(ctx context.Context, j *domain.Jackpot) error

	// BeginJackpotAward records a pending win and saves the jackpot with
	// its PendingWinID in one transaction. A second win for the same spin
	// fails with ErrConflict.
	BeginJackpotAward(ctx context.Context, j *domain.Jackpot, w *domain.JackpotWin) error
	// SettleJackpotAward saves the reset jackpot and confirms the win in
	// one transaction
	SettleJackpotAward(ctx context.Context, j *domain.Jackpot, w *domain.JackpotWin) error
	GetJackpotWin(ctx context.Context, id string) (*domain.JackpotWin, error)
	PendingJackpotWins(ctx context.Context) ([]*domain.JackpotWin, error)
}

// EventFilter defines criteria for filtering audit events
type EventFilter struct {
	PlayerID string
	Type     string
	From     time.Time
	To       time.Time
	Limit    int
}

// AuditStore persists significant events
type AuditStore interface {
	SaveEvent(ctx context.Context, e *domain.AuditEvent) error
	ListEvents(ctx context.Context, filter *EventFilter) ([]*domain.AuditEvent, error)
}

// ControlState is the persisted kill switch state
type ControlState struct {
	GamingEnabled  bool
	DisabledAt     *time.Time
	DisabledBy     string
	DisabledReason string
	DisabledGames  map[string]string
}

// ControlStore persists operator kill switches
type ControlStore interface {
	SetGamingEnabled(ctx context.Context, enabled bool, reason, by string, at time.Time) error
	DisableGame(ctx context.Context, gameID, reason, by string, at time.Time) error
	EnableGame(ctx context.Context, gameID string) error
	LoadControlState(ctx context.Context) (*ControlState, error)
}

// Store is the full persistence surface
type Store interface {
	LedgerStore
	SessionStore
	SpinStore
	JackpotStore
	AuditStore
	ControlStore
	Close() error
}

// DefaultLimit is applied to list queries without an explicit limit
const DefaultLimit = 50

// Limit normalises a caller supplied page size
func Limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}
