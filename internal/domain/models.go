// Package domain contains the core domain models of the slot engine
//
// Amounts are int64 minor units of the session currency (GC, SC, USD cents).
// Jackpot pools use decimal values so fractional contributions are not lost.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the state of a play session
type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// Session is one player playing one game in one currency
type Session struct {
	ID                 string        `json:"id" db:"id"`
	PlayerID           string        `json:"player_id" db:"player_id"`
	GameID             string        `json:"game_id" db:"game_id"`
	Currency           string        `json:"currency" db:"currency"`
	Status             SessionStatus `json:"status" db:"status"`
	TotalBet           int64         `json:"total_bet" db:"total_bet"`
	TotalWin           int64         `json:"total_win" db:"total_win"`
	SpinCount          int64         `json:"spin_count" db:"spin_count"`
	FreeSpinsRemaining int           `json:"free_spins_remaining" db:"free_spins_remaining"`
	// FreeSpinBet is the paid bet that awarded the remaining free spins
	FreeSpinBet        int64         `json:"free_spin_bet,omitempty" db:"free_spin_bet"`
	StartedAt          time.Time     `json:"started_at" db:"started_at"`
	EndedAt            *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// TransactionType is the reason recorded on a ledger entry
type TransactionType string

const (
	TxTypeDeposit TransactionType = "deposit"
	TxTypeWager   TransactionType = "wager"
	TxTypeWin     TransactionType = "win"
	TxTypeJackpot TransactionType = "jackpot"
	TxTypeRefund  TransactionType = "refund"
)

// IsDebit reports whether the transaction type removes funds
func (t TransactionType) IsDebit() bool {
	return t == TxTypeWager
}

// Transaction is one ledger entry; (Reference, Type) is unique
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	PlayerID      string          `json:"player_id" db:"player_id"`
	Type          TransactionType `json:"type" db:"type"`
	Amount        int64           `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	BalanceBefore int64           `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64           `json:"balance_after" db:"balance_after"`
	Reference     string          `json:"reference" db:"reference"`
	Description   string          `json:"description" db:"description"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// SpinStatus tracks whether the accounting of a spin completed
type SpinStatus string

const (
	SpinCompleted      SpinStatus = "completed"
	SpinCreditPending  SpinStatus = "credit_pending"
	SpinJackpotPending SpinStatus = "jackpot_pending"
)

// SpinRecord is the durable audit entry of a spin
type SpinRecord struct {
	SpinID    string          `json:"spin_id" db:"spin_id"`
	SessionID string          `json:"session_id" db:"session_id"`
	PlayerID  string          `json:"player_id" db:"player_id"`
	GameID    string          `json:"game_id" db:"game_id"`
	Currency  string          `json:"currency" db:"currency"`
	Bet       int64           `json:"bet" db:"bet"`
	BaseWin   int64           `json:"base_win" db:"base_win"`
	TotalWin  int64           `json:"total_win" db:"total_win"`
	FreeSpin  bool            `json:"free_spin" db:"free_spin"`
	Status    SpinStatus      `json:"status" db:"status"`
	Outcome   json.RawMessage `json:"outcome" db:"outcome"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Jackpot is the state of one game's jackpot pool
type Jackpot struct {
	ID                 string          `json:"id" db:"id"`
	GameID             string          `json:"game_id" db:"game_id"`
	Type               JackpotType     `json:"type" db:"type"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	Currency           string          `json:"currency" db:"currency"`
	ContributionRate   decimal.Decimal `json:"contribution_rate" db:"contribution_rate"`
	MinBet             int64           `json:"min_bet" db:"min_bet"`
	SeedAmount         int64           `json:"seed_amount" db:"seed_amount"`
	TotalContributions decimal.Decimal `json:"total_contributions" db:"total_contributions"`
	TriggerProbability float64         `json:"trigger_probability" db:"trigger_probability"`
	GrowthPerTick      int64           `json:"growth_per_tick" db:"growth_per_tick"`
	Active             bool            `json:"active" db:"active"`
	LastWonAt          *time.Time      `json:"last_won_at,omitempty" db:"last_won_at"`
	LastWinner         string          `json:"last_winner,omitempty" db:"last_winner"`
	PendingWinID       string          `json:"pending_win_id,omitempty" db:"pending_win_id"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Payable is the whole-minor-unit amount an award would pay out
func (j *Jackpot) Payable() int64 {
	return j.Amount.Floor().IntPart()
}

// JackpotWinStatus tracks the credit of a jackpot award
type JackpotWinStatus string

const (
	JackpotWinPending   JackpotWinStatus = "pending"
	JackpotWinConfirmed JackpotWinStatus = "confirmed"
)

// JackpotWin records one jackpot award; SpinID is unique
type JackpotWin struct {
	ID          string           `json:"id" db:"id"`
	JackpotID   string           `json:"jackpot_id" db:"jackpot_id"`
	GameID      string           `json:"game_id" db:"game_id"`
	PlayerID    string           `json:"player_id" db:"player_id"`
	SpinID      string           `json:"spin_id" db:"spin_id"`
	Amount      int64            `json:"amount" db:"amount"`
	Currency    string           `json:"currency" db:"currency"`
	Status      JackpotWinStatus `json:"status" db:"status"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	ConfirmedAt *time.Time       `json:"confirmed_at,omitempty" db:"confirmed_at"`
}

// EventSeverity represents audit event severity
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent represents a significant event
type AuditEvent struct {
	ID          string          `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	Severity    EventSeverity   `json:"severity" db:"severity"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	PlayerID    *string         `json:"player_id,omitempty" db:"player_id"`
	SessionID   *string         `json:"session_id,omitempty" db:"session_id"`
	Description string          `json:"description" db:"description"`
	Data        json.RawMessage `json:"data,omitempty" db:"data"`
	Component   string          `json:"component" db:"component"`
}

// GamingSystemStatus is the operator view of the kill switches
type GamingSystemStatus struct {
	GamingEnabled  bool       `json:"gaming_enabled"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	DisabledBy     string     `json:"disabled_by,omitempty"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
	DisabledGames  []string   `json:"disabled_games"`
}
