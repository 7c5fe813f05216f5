// Package wallet is the ledger gateway of the slot engine.
//
// Every balance change carries a reference used as its idempotency key, so
// a call repeated after a timeout never moves money twice.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	// ErrUnavailable marks transient ledger failures; only these are retried
	ErrUnavailable = errors.New("ledger unavailable")
)

// Request describes one balance change
type Request struct {
	PlayerID    string
	Currency    string
	Amount      int64
	Type        domain.TransactionType
	Reference   string
	Description string
}

// Gateway is the player ledger as seen by the engine
type Gateway interface {
	Debit(ctx context.Context, req Request) (*domain.Transaction, error)
	Credit(ctx context.Context, req Request) (*domain.Transaction, error)
	Balance(ctx context.Context, playerID, currency string) (int64, error)
}

// Service is the store-backed ledger
type Service struct {
	store store.LedgerStore
	audit *audit.Service
}

// New creates a new wallet service
func New(s store.LedgerStore, auditSvc *audit.Service) *Service {
	return &Service{store: s, audit: auditSvc}
}

// Balance returns the player's balance in currency
func (s *Service) Balance(ctx context.Context, playerID, currency string) (int64, error) {
	bal, err := s.store.Balance(ctx, playerID, currency)
	if err != nil {
		return 0, unavailable(err)
	}
	return bal, nil
}

// Debit removes funds for a wager
func (s *Service) Debit(ctx context.Context, req Request) (*domain.Transaction, error) {
	if req.Type == "" {
		req.Type = domain.TxTypeWager
	}
	if !req.Type.IsDebit() {
		return nil, fmt.Errorf("debit with credit type %q", req.Type)
	}
	return s.apply(ctx, req)
}

// Credit adds funds for a win, jackpot or refund
func (s *Service) Credit(ctx context.Context, req Request) (*domain.Transaction, error) {
	if req.Type == "" {
		req.Type = domain.TxTypeWin
	}
	if req.Type.IsDebit() {
		return nil, fmt.Errorf("credit with debit type %q", req.Type)
	}
	return s.apply(ctx, req)
}

// Deposit adds funds to a player's account
func (s *Service) Deposit(ctx context.Context, playerID, currency string, amount int64, reference string) (*domain.Transaction, error) {
	if reference == "" {
		reference = "deposit:" + uuid.New().String()
	}
	tx, err := s.apply(ctx, Request{
		PlayerID:    playerID,
		Currency:    currency,
		Amount:      amount,
		Type:        domain.TxTypeDeposit,
		Reference:   reference,
		Description: "Deposit",
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, audit.EventDeposit, domain.SeverityInfo,
		fmt.Sprintf("Deposit of %d %s", amount, currency),
		map[string]interface{}{
			"transaction_id": tx.ID,
			"amount":         amount,
			"currency":       currency,
			"balance_after":  tx.BalanceAfter,
		},
		audit.WithPlayer(playerID), audit.WithComponent("wallet"))

	return tx, nil
}

// Transactions returns the newest transactions of a player first
func (s *Service) Transactions(ctx context.Context, playerID string, limit int) ([]*domain.Transaction, error) {
	txs, err := s.store.Transactions(ctx, playerID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return txs, nil
}

func (s *Service) apply(ctx context.Context, req Request) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Reference == "" {
		return nil, errors.New("transaction reference is required")
	}

	tx, err := s.store.ApplyTransaction(ctx, &domain.Transaction{
		ID:          uuid.New().String(),
		PlayerID:    req.PlayerID,
		Type:        req.Type,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return nil, ErrInsufficientFunds
	case err != nil:
		return nil, unavailable(err)
	}
	return tx, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
