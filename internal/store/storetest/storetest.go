// Package storetest holds the behaviour every store.Store must share.
// Implementations run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

// Factory returns a fresh, empty store
type Factory func(t *testing.T) store.Store

// base is millisecond aligned so SQL round trips compare equal
var base = time.UnixMilli(1_700_000_000_000).UTC()

// Run executes the conformance suite
func Run(t *testing.T, newStore Factory) {
	t.Run("Ledger", func(t *testing.T) { testLedger(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("Spins", func(t *testing.T) { testSpins(t, newStore(t)) })
	t.Run("Jackpots", func(t *testing.T) { testJackpots(t, newStore(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("Control", func(t *testing.T) { testControl(t, newStore(t)) })
}

func testLedger(t *testing.T, s store.Store) {
	ctx := context.Background()

	bal, err := s.Balance(ctx, "p1", "GC")
	if err != nil || bal != 0 {
		t.Fatalf("Expected zero balance for new player, got %d, %v", bal, err)
	}

	dep, err := s.ApplyTransaction(ctx, &domain.Transaction{
		PlayerID: "p1", Type: domain.TxTypeDeposit, Amount: 100, Currency: "GC",
		Reference: "dep-1", CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if dep.BalanceBefore != 0 || dep.BalanceAfter != 100 || dep.ID == "" {
		t.Errorf("Unexpected deposit entry: %+v", dep)
	}

	wager := &domain.Transaction{
		PlayerID: "p1", Type: domain.TxTypeWager, Amount: 30, Currency: "GC",
		Reference: "spin:1:bet", CreatedAt: base.Add(time.Second),
	}
	first, err := s.ApplyTransaction(ctx, wager)
	if err != nil {
		t.Fatalf("Wager failed: %v", err)
	}
	if first.BalanceBefore != 100 || first.BalanceAfter != 70 {
		t.Errorf("Unexpected wager entry: %+v", first)
	}

	t.Run("IdempotentReference", func(t *testing.T) {
		again, err := s.ApplyTransaction(ctx, wager)
		if err != nil {
			t.Fatalf("Replay failed: %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("Expected original entry %s, got %s", first.ID, again.ID)
		}
		if bal, _ := s.Balance(ctx, "p1", "GC"); bal != 70 {
			t.Errorf("Replay moved the balance: %d", bal)
		}
	})

	t.Run("SameReferenceDifferentType", func(t *testing.T) {
		win, err := s.ApplyTransaction(ctx, &domain.Transaction{
			PlayerID: "p1", Type: domain.TxTypeWin, Amount: 5, Currency: "GC",
			Reference: "spin:1:bet", CreatedAt: base.Add(2 * time.Second),
		})
		if err != nil {
			t.Fatalf("Win failed: %v", err)
		}
		if win.BalanceAfter != 75 {
			t.Errorf("Expected balance 75, got %d", win.BalanceAfter)
		}
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		_, err := s.ApplyTransaction(ctx, &domain.Transaction{
			PlayerID: "p1", Type: domain.TxTypeWager, Amount: 1000, Currency: "GC",
			Reference: "spin:2:bet", CreatedAt: base.Add(3 * time.Second),
		})
		if !errors.Is(err, store.ErrInsufficientFunds) {
			t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
		}
		if bal, _ := s.Balance(ctx, "p1", "GC"); bal != 75 {
			t.Errorf("Failed debit moved the balance: %d", bal)
		}
	})

	t.Run("CurrenciesAreSeparate", func(t *testing.T) {
		if bal, _ := s.Balance(ctx, "p1", "SC"); bal != 0 {
			t.Errorf("Expected empty SC balance, got %d", bal)
		}
	})

	t.Run("History", func(t *testing.T) {
		txs, err := s.Transactions(ctx, "p1", 0)
		if err != nil {
			t.Fatalf("Transactions failed: %v", err)
		}
		if len(txs) != 3 {
			t.Fatalf("Expected 3 entries, got %d", len(txs))
		}
		if txs[0].Type != domain.TxTypeWin {
			t.Errorf("Expected newest entry first, got %s", txs[0].Type)
		}
		if limited, _ := s.Transactions(ctx, "p1", 1); len(limited) != 1 {
			t.Errorf("Expected limit to apply, got %d", len(limited))
		}
	})
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()

	sess := &domain.Session{
		ID: "s1", PlayerID: "p1", GameID: "g1", Currency: "GC",
		Status: domain.SessionActive, StartedAt: base, UpdatedAt: base,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.PlayerID != "p1" || !got.StartedAt.Equal(base) || got.EndedAt != nil {
		t.Errorf("Unexpected session: %+v", got)
	}

	ended := base.Add(time.Minute)
	got.Status = domain.SessionEnded
	got.TotalBet, got.TotalWin, got.SpinCount, got.FreeSpinsRemaining = 50, 20, 5, 10
	got.FreeSpinBet = 25
	got.EndedAt = &ended
	got.UpdatedAt = ended
	if err := s.UpdateSession(ctx, got); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	again, _ := s.GetSession(ctx, "s1")
	if again.Status != domain.SessionEnded || again.TotalBet != 50 || again.FreeSpinsRemaining != 10 || again.FreeSpinBet != 25 {
		t.Errorf("Update not persisted: %+v", again)
	}
	if again.EndedAt == nil || !again.EndedAt.Equal(ended) {
		t.Errorf("Expected ended at %v, got %v", ended, again.EndedAt)
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateSession(ctx, &domain.Session{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on update, got %v", err)
	}
}

func testSpins(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		rec := &domain.SpinRecord{
			SpinID: id, SessionID: "s1", PlayerID: "p1", GameID: "g1", Currency: "GC",
			Bet: 10, Status: domain.SpinCompleted, Outcome: []byte(`{"base_win":0}`),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveSpin(ctx, rec); err != nil {
			t.Fatalf("SaveSpin failed: %v", err)
		}
	}

	list, err := s.ListSpins(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("ListSpins failed: %v", err)
	}
	if len(list) != 2 || list[0].SpinID != "c" || list[1].SpinID != "b" {
		t.Errorf("Expected newest two spins, got %+v", list)
	}

	pending, _ := s.GetSpin(ctx, "b")
	pending.Status = domain.SpinCreditPending
	if err := s.SaveSpin(ctx, pending); err != nil {
		t.Fatalf("SaveSpin update failed: %v", err)
	}

	byStatus, err := s.SpinsByStatus(ctx, domain.SpinCreditPending)
	if err != nil {
		t.Fatalf("SpinsByStatus failed: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].SpinID != "b" {
		t.Errorf("Expected spin b pending, got %+v", byStatus)
	}
	if string(byStatus[0].Outcome) != `{"base_win":0}` {
		t.Errorf("Outcome not preserved: %s", byStatus[0].Outcome)
	}

	if _, err := s.GetSpin(ctx, "zzz"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testJackpots(t *testing.T, s store.Store) {
	ctx := context.Background()

	jp := &domain.Jackpot{
		ID: "jp-1", GameID: "g1", Type: domain.JackpotProgressive,
		Amount: decimal.NewFromInt(5000), Currency: "GC",
		ContributionRate: decimal.RequireFromString("0.01"), MinBet: 10, SeedAmount: 1000,
		TotalContributions: decimal.Zero, Active: true, UpdatedAt: base,
	}
	created, err := s.EnsureJackpot(ctx, jp)
	if err != nil {
		t.Fatalf("EnsureJackpot failed: %v", err)
	}
	if !created.Amount.Equal(decimal.NewFromInt(5000)) || !created.Active {
		t.Errorf("Unexpected jackpot: %+v", created)
	}

	t.Run("EnsureKeepsPersistedAmount", func(t *testing.T) {
		created.Amount = decimal.RequireFromString("5000.05")
		if err := s.SaveJackpot(ctx, created); err != nil {
			t.Fatalf("SaveJackpot failed: %v", err)
		}
		fresh := *jp
		fresh.Amount = decimal.NewFromInt(1000)
		got, err := s.EnsureJackpot(ctx, &fresh)
		if err != nil {
			t.Fatalf("EnsureJackpot failed: %v", err)
		}
		if !got.Amount.Equal(decimal.RequireFromString("5000.05")) {
			t.Errorf("Expected persisted amount, got %s", got.Amount)
		}
	})

	win := &domain.JackpotWin{
		ID: "w1", JackpotID: "jp-1", GameID: "g1", PlayerID: "p1", SpinID: "spin-1",
		Amount: 5000, Currency: "GC", Status: domain.JackpotWinPending, CreatedAt: base,
	}

	t.Run("BeginAward", func(t *testing.T) {
		j, _ := s.GetJackpot(ctx, "g1")
		j.PendingWinID = win.ID
		if err := s.BeginJackpotAward(ctx, j, win); err != nil {
			t.Fatalf("BeginJackpotAward failed: %v", err)
		}
		dup := *win
		dup.ID = "w2"
		if err := s.BeginJackpotAward(ctx, j, &dup); !errors.Is(err, store.ErrConflict) {
			t.Errorf("Expected ErrConflict for second award on spin, got %v", err)
		}

		pending, err := s.PendingJackpotWins(ctx)
		if err != nil || len(pending) != 1 || pending[0].ID != "w1" {
			t.Fatalf("Expected one pending win, got %+v, %v", pending, err)
		}
		if got, _ := s.GetJackpot(ctx, "g1"); got.PendingWinID != "w1" {
			t.Errorf("Expected pending win on jackpot, got %q", got.PendingWinID)
		}
	})

	t.Run("SettleAward", func(t *testing.T) {
		j, _ := s.GetJackpot(ctx, "g1")
		wonAt := base.Add(time.Minute)
		j.Amount = decimal.NewFromInt(j.SeedAmount)
		j.PendingWinID = ""
		j.LastWinner = "p1"
		j.LastWonAt = &wonAt

		w, _ := s.GetJackpotWin(ctx, "w1")
		w.Status = domain.JackpotWinConfirmed
		w.ConfirmedAt = &wonAt
		if err := s.SettleJackpotAward(ctx, j, w); err != nil {
			t.Fatalf("SettleJackpotAward failed: %v", err)
		}

		got, _ := s.GetJackpot(ctx, "g1")
		if !got.Amount.Equal(decimal.NewFromInt(1000)) || got.LastWinner != "p1" || got.PendingWinID != "" {
			t.Errorf("Unexpected settled jackpot: %+v", got)
		}
		if got.LastWonAt == nil || !got.LastWonAt.Equal(wonAt) {
			t.Errorf("Expected last won %v, got %v", wonAt, got.LastWonAt)
		}
		if pending, _ := s.PendingJackpotWins(ctx); len(pending) != 0 {
			t.Errorf("Expected no pending wins, got %d", len(pending))
		}
		if w, _ := s.GetJackpotWin(ctx, "w1"); w.Status != domain.JackpotWinConfirmed {
			t.Errorf("Expected confirmed win, got %s", w.Status)
		}
	})

	t.Run("List", func(t *testing.T) {
		list, err := s.ListJackpots(ctx)
		if err != nil || len(list) != 1 {
			t.Fatalf("Expected one jackpot, got %d, %v", len(list), err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := s.GetJackpot(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetJackpotWin(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func testAudit(t *testing.T, s store.Store) {
	ctx := context.Background()
	player := "p1"

	events := []*domain.AuditEvent{
		{ID: "e1", Type: "game_session_start", Severity: domain.SeverityInfo, Timestamp: base,
			PlayerID: &player, Description: "start", Component: "engine"},
		{ID: "e2", Type: "jackpot_won", Severity: domain.SeverityInfo, Timestamp: base.Add(time.Second),
			Description: "won", Data: []byte(`{"amount":5000}`), Component: "jackpot"},
	}
	for _, e := range events {
		if err := s.SaveEvent(ctx, e); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}

	all, err := s.ListEvents(ctx, nil)
	if err != nil || len(all) != 2 || all[0].ID != "e2" {
		t.Fatalf("Expected two events newest first, got %+v, %v", all, err)
	}

	byPlayer, _ := s.ListEvents(ctx, &store.EventFilter{PlayerID: "p1"})
	if len(byPlayer) != 1 || byPlayer[0].ID != "e1" {
		t.Errorf("Expected player filter to match e1, got %+v", byPlayer)
	}

	byType, _ := s.ListEvents(ctx, &store.EventFilter{Type: "jackpot_won"})
	if len(byType) != 1 || string(byType[0].Data) != `{"amount":5000}` {
		t.Errorf("Expected type filter to match e2, got %+v", byType)
	}

	since, _ := s.ListEvents(ctx, &store.EventFilter{From: base.Add(500 * time.Millisecond)})
	if len(since) != 1 {
		t.Errorf("Expected one event after From, got %d", len(since))
	}
}

func testControl(t *testing.T, s store.Store) {
	ctx := context.Background()

	state, err := s.LoadControlState(ctx)
	if err != nil {
		t.Fatalf("LoadControlState failed: %v", err)
	}
	if !state.GamingEnabled || len(state.DisabledGames) != 0 {
		t.Fatalf("Expected default enabled state, got %+v", state)
	}

	if err := s.SetGamingEnabled(ctx, false, "maintenance", "operator", base); err != nil {
		t.Fatalf("SetGamingEnabled failed: %v", err)
	}
	if err := s.DisableGame(ctx, "g1", "faulty paytable", "operator", base); err != nil {
		t.Fatalf("DisableGame failed: %v", err)
	}

	state, _ = s.LoadControlState(ctx)
	if state.GamingEnabled || state.DisabledBy != "operator" || state.DisabledReason != "maintenance" {
		t.Errorf("Unexpected disabled state: %+v", state)
	}
	if state.DisabledGames["g1"] != "faulty paytable" {
		t.Errorf("Expected g1 disabled, got %v", state.DisabledGames)
	}

	s.SetGamingEnabled(ctx, true, "", "operator", base)
	s.EnableGame(ctx, "g1")
	state, _ = s.LoadControlState(ctx)
	if !state.GamingEnabled || len(state.DisabledGames) != 0 {
		t.Errorf("Expected re-enabled state, got %+v", state)
	}
}
