package wallet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
	"github.com/alexbotov/slotengine/internal/store/memory"
)

func setupTestWallet(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return New(st, audit.New(st, zap.NewNop())), st
}

func TestDeposit(t *testing.T) {
	svc, st := setupTestWallet(t)
	ctx := context.Background()

	t.Run("ValidDeposit", func(t *testing.T) {
		tx, err := svc.Deposit(ctx, "p1", "USD", 10000, "dep-1")
		if err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		if tx.BalanceBefore != 0 || tx.BalanceAfter != 10000 {
			t.Errorf("Unexpected balances %d -> %d", tx.BalanceBefore, tx.BalanceAfter)
		}

		bal, _ := svc.Balance(ctx, "p1", "USD")
		if bal != 10000 {
			t.Errorf("Expected balance 10000, got %d", bal)
		}

		events, _ := st.ListEvents(ctx, &store.EventFilter{Type: audit.EventDeposit})
		if len(events) != 1 {
			t.Errorf("Expected 1 deposit event, got %d", len(events))
		}
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		if _, err := svc.Deposit(ctx, "p1", "USD", 0, ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("CurrenciesAreSeparate", func(t *testing.T) {
		bal, _ := svc.Balance(ctx, "p1", "SC")
		if bal != 0 {
			t.Errorf("Expected SC balance 0, got %d", bal)
		}
	})
}

func TestDebitCredit(t *testing.T) {
	svc, _ := setupTestWallet(t)
	ctx := context.Background()
	svc.Deposit(ctx, "p1", "USD", 1000, "dep")

	t.Run("Debit", func(t *testing.T) {
		tx, err := svc.Debit(ctx, Request{PlayerID: "p1", Currency: "USD", Amount: 100, Reference: "spin:1:bet"})
		if err != nil {
			t.Fatalf("Debit failed: %v", err)
		}
		if tx.Type != domain.TxTypeWager || tx.BalanceAfter != 900 {
			t.Errorf("Unexpected transaction %+v", tx)
		}
	})

	t.Run("DebitIsIdempotent", func(t *testing.T) {
		tx, err := svc.Debit(ctx, Request{PlayerID: "p1", Currency: "USD", Amount: 100, Reference: "spin:1:bet"})
		if err != nil {
			t.Fatalf("Debit failed: %v", err)
		}
		if tx.BalanceAfter != 900 {
			t.Errorf("Replay should return the original entry, got balance %d", tx.BalanceAfter)
		}
		bal, _ := svc.Balance(ctx, "p1", "USD")
		if bal != 900 {
			t.Errorf("Expected balance 900, got %d", bal)
		}
	})

	t.Run("Credit", func(t *testing.T) {
		tx, err := svc.Credit(ctx, Request{PlayerID: "p1", Currency: "USD", Amount: 250, Reference: "spin:1:win"})
		if err != nil {
			t.Fatalf("Credit failed: %v", err)
		}
		if tx.Type != domain.TxTypeWin || tx.BalanceAfter != 1150 {
			t.Errorf("Unexpected transaction %+v", tx)
		}
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		_, err := svc.Debit(ctx, Request{PlayerID: "p1", Currency: "USD", Amount: 5000, Reference: "spin:2:bet"})
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("Expected ErrInsufficientFunds, got %v", err)
		}
	})

	t.Run("WrongDirection", func(t *testing.T) {
		_, err := svc.Credit(ctx, Request{PlayerID: "p1", Currency: "USD", Amount: 5, Type: domain.TxTypeWager, Reference: "x"})
		if err == nil {
			t.Error("Expected error crediting a wager type")
		}
	})

	t.Run("Transactions", func(t *testing.T) {
		txs, err := svc.Transactions(ctx, "p1", 10)
		if err != nil {
			t.Fatalf("Transactions failed: %v", err)
		}
		if len(txs) != 3 {
			t.Fatalf("Expected 3 transactions, got %d", len(txs))
		}
		if txs[0].Reference != "spin:1:win" {
			t.Errorf("Expected newest first, got %s", txs[0].Reference)
		}
	})
}

// flaky fails the first n calls with err
type flaky struct {
	Gateway
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flaky) fail() error {
	if f.calls.Add(1) <= f.failures {
		return f.err
	}
	return nil
}

func (f *flaky) Debit(ctx context.Context, req Request) (*domain.Transaction, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Gateway.Debit(ctx, req)
}

func (f *flaky) Credit(ctx context.Context, req Request) (*domain.Transaction, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Gateway.Credit(ctx, req)
}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxElapsed: time.Second}
}

func TestRetrying(t *testing.T) {
	ctx := context.Background()

	t.Run("RecoversFromTransientFailures", func(t *testing.T) {
		svc, _ := setupTestWallet(t)
		svc.Deposit(ctx, "p1", "USD", 1000, "dep")
		f := &flaky{Gateway: svc, failures: 2, err: ErrUnavailable}
		gw := NewRetrying(f, testPolicy(), zap.NewNop())

		tx, err := gw.Debit(ctx, Request{PlayerID: "p1", Currency: "USD", Amount: 100, Reference: "spin:1:bet"})
		if err != nil {
			t.Fatalf("Debit failed: %v", err)
		}
		if tx.BalanceAfter != 900 {
			t.Errorf("Expected balance 900, got %d", tx.BalanceAfter)
		}
		if got := f.calls.Load(); got != 3 {
			t.Errorf("Expected 3 calls, got %d", got)
		}
	})

	t.Run("GivesUp", func(t *testing.T) {
		svc, _ := setupTestWallet(t)
		f := &flaky{Gateway: svc, failures: 100, err: ErrUnavailable}
		gw := NewRetrying(f, testPolicy(), zap.NewNop())

		_, err := gw.Credit(ctx, Request{PlayerID: "p1", Currency: "USD", Amount: 100, Reference: "spin:1:win"})
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("Expected ErrUnavailable, got %v", err)
		}
		if got := f.calls.Load(); got != 4 {
			t.Errorf("Expected 4 calls, got %d", got)
		}
	})

	t.Run("DoesNotRetryBusinessErrors", func(t *testing.T) {
		svc, _ := setupTestWallet(t)
		f := &flaky{Gateway: svc}
		gw := NewRetrying(f, testPolicy(), zap.NewNop())

		_, err := gw.Debit(ctx, Request{PlayerID: "p1", Currency: "USD", Amount: 100, Reference: "spin:1:bet"})
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("Expected ErrInsufficientFunds, got %v", err)
		}
		if got := f.calls.Load(); got != 1 {
			t.Errorf("Expected 1 call, got %d", got)
		}
	})

	t.Run("Balance", func(t *testing.T) {
		svc, _ := setupTestWallet(t)
		svc.Deposit(ctx, "p1", "USD", 700, "dep")
		gw := NewRetrying(svc, testPolicy(), zap.NewNop())

		bal, err := gw.Balance(ctx, "p1", "USD")
		if err != nil || bal != 700 {
			t.Errorf("Expected 700, got %d (%v)", bal, err)
		}
	})
}
