package control

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/store"
	"github.com/alexbotov/slotengine/internal/store/memory"
)

func setupTestControl(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return New(st, audit.New(st, zap.NewNop())), st
}

func TestGamingEnabled(t *testing.T) {
	svc, _ := setupTestControl(t)

	t.Run("InitiallyEnabled", func(t *testing.T) {
		if !svc.IsGamingEnabled() {
			t.Error("Gaming should be enabled by default")
		}
		if err := svc.CheckAccess("any"); err != nil {
			t.Errorf("Expected access, got %v", err)
		}
	})
}

func TestDisableAllGaming(t *testing.T) {
	svc, st := setupTestControl(t)
	ctx := context.Background()

	t.Run("DisableGaming", func(t *testing.T) {
		if err := svc.DisableAllGaming(ctx, "Maintenance", "ops@example.com"); err != nil {
			t.Fatalf("Failed to disable gaming: %v", err)
		}
		if svc.IsGamingEnabled() {
			t.Error("Gaming should be disabled")
		}
		if err := svc.CheckAccess("starburst"); !errors.Is(err, ErrGamingDisabled) {
			t.Errorf("Expected ErrGamingDisabled, got %v", err)
		}

		status := svc.Status()
		if status.GamingEnabled || status.DisabledBy != "ops@example.com" || status.DisabledReason != "Maintenance" {
			t.Errorf("Unexpected status: %+v", status)
		}
		if status.DisabledAt == nil {
			t.Error("DisabledAt should be set")
		}
	})

	t.Run("AuditLogged", func(t *testing.T) {
		events, _ := st.ListEvents(ctx, &store.EventFilter{Type: audit.EventGamingDisabled})
		if len(events) != 1 {
			t.Errorf("Expected 1 audit event, got %d", len(events))
		}
	})

	t.Run("EnableGaming", func(t *testing.T) {
		if err := svc.EnableAllGaming(ctx, "ops@example.com"); err != nil {
			t.Fatalf("Failed to enable gaming: %v", err)
		}
		if !svc.IsGamingEnabled() {
			t.Error("Gaming should be enabled")
		}
		if svc.Status().DisabledAt != nil {
			t.Error("DisabledAt should be cleared")
		}
	})
}

func TestDisableGame(t *testing.T) {
	svc, _ := setupTestControl(t)
	ctx := context.Background()

	if err := svc.DisableGame(ctx, "fortune", "RTP review", "ops"); err != nil {
		t.Fatalf("Failed to disable game: %v", err)
	}

	t.Run("OnlyThatGame", func(t *testing.T) {
		if svc.IsGameEnabled("fortune") {
			t.Error("fortune should be disabled")
		}
		if !svc.IsGameEnabled("classic") {
			t.Error("classic should stay enabled")
		}
		if err := svc.CheckAccess("fortune"); !errors.Is(err, ErrGameDisabled) {
			t.Errorf("Expected ErrGameDisabled, got %v", err)
		}
		if got := svc.Status().DisabledGames; len(got) != 1 || got[0] != "fortune" {
			t.Errorf("Unexpected disabled games: %v", got)
		}
	})

	t.Run("Enable", func(t *testing.T) {
		if err := svc.EnableGame(ctx, "fortune", "ops"); err != nil {
			t.Fatalf("Failed to enable game: %v", err)
		}
		if !svc.IsGameEnabled("fortune") {
			t.Error("fortune should be enabled")
		}
	})
}

func TestLoadState(t *testing.T) {
	svc, st := setupTestControl(t)
	ctx := context.Background()

	svc.DisableAllGaming(ctx, "incident", "ops")
	svc.DisableGame(ctx, "fortune", "review", "ops")

	restarted := New(st, audit.New(st, zap.NewNop()))
	if err := restarted.LoadState(ctx); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restarted.IsGamingEnabled() {
		t.Error("Gaming should stay disabled after restart")
	}
	if restarted.IsGameEnabled("fortune") {
		t.Error("fortune should stay disabled after restart")
	}
	if restarted.Status().DisabledReason != "incident" {
		t.Errorf("Unexpected reason %q", restarted.Status().DisabledReason)
	}
}
