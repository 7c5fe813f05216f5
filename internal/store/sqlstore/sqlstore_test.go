package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alexbotov/slotengine/internal/database"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
	"github.com/alexbotov/slotengine/internal/store/storetest"
)

func setupTestStore(t *testing.T, driver, dsn string) *Store {
	t.Helper()

	db, err := database.New(driver, dsn)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := db.CleanData(ctx); err != nil {
		t.Fatalf("Failed to clean data: %v", err)
	}

	s := New(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupTestStore(t, database.DriverSQLite, filepath.Join(t.TempDir(), "slotengine.db"))
	})
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("RGS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RGS_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupTestStore(t, database.DriverPostgres, dsn)
	})
}

func TestConcurrentDebits(t *testing.T) {
	s := setupTestStore(t, database.DriverSQLite, filepath.Join(t.TempDir(), "concurrent.db"))
	ctx := context.Background()

	if _, err := s.ApplyTransaction(ctx, &domain.Transaction{
		PlayerID: "p1", Type: domain.TxTypeDeposit, Amount: 100, Currency: "GC", Reference: "dep",
	}); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	// 20 debits of 10 race for a balance of 100; exactly 10 may succeed
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ApplyTransaction(ctx, &domain.Transaction{
				PlayerID: "p1", Type: domain.TxTypeWager, Amount: 10, Currency: "GC",
				Reference: "spin:" + string(rune('a'+i)) + ":bet",
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if ok != 10 {
		t.Errorf("Expected 10 successful debits, got %d", ok)
	}
	if bal, _ := s.Balance(ctx, "p1", "GC"); bal != 0 {
		t.Errorf("Expected zero balance, got %d", bal)
	}
}

func TestReopenKeepsJackpot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.db")
	ctx := context.Background()

	s := setupTestStore(t, database.DriverSQLite, path)
	if _, err := s.EnsureJackpot(ctx, testJackpot("7500.25")); err != nil {
		t.Fatalf("EnsureJackpot failed: %v", err)
	}
	s.Close()

	db, err := database.New(database.DriverSQLite, path)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	reopened := New(db)
	defer reopened.Close()

	got, err := reopened.EnsureJackpot(ctx, testJackpot("100"))
	if err != nil {
		t.Fatalf("EnsureJackpot after restart failed: %v", err)
	}
	if got.Amount.String() != "7500.25" {
		t.Errorf("Expected amount to survive restart, got %s", got.Amount)
	}
}

func testJackpot(amount string) *domain.Jackpot {
	return &domain.Jackpot{
		ID: "jp-restart", GameID: "g1", Type: domain.JackpotProgressive,
		Amount: decimal.RequireFromString(amount), Currency: "GC",
		ContributionRate: decimal.RequireFromString("0.01"), MinBet: 10, SeedAmount: 100,
		TotalContributions: decimal.Zero, Active: true,
	}
}
