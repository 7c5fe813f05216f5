package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if cfg.Ledger.MaxRetries != 3 || cfg.Ledger.InitialBackoff != 50*time.Millisecond {
		t.Errorf("Unexpected ledger config: %+v", cfg.Ledger)
	}
	if cfg.Ledger.URL != "" || cfg.Ledger.Timeout != 10*time.Second {
		t.Errorf("Expected the local ledger by default, got %+v", cfg.Ledger)
	}
	if cfg.Game.CatalogPath != "configs/games.yaml" || cfg.Game.RNGSeed != 0 {
		t.Errorf("Unexpected game config: %+v", cfg.Game)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("RGS_PORT", "9090")
	t.Setenv("RGS_DB_DRIVER", "postgres")
	t.Setenv("RGS_REDIS_ADDR", "localhost:6379")
	t.Setenv("RGS_JACKPOT_GROWTH_INTERVAL", "5s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Database.Driver != "postgres" {
		t.Errorf("Environment not applied: %+v", cfg)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Jackpot.GrowthInterval != 5*time.Second {
		t.Errorf("Nested prefixes not applied: %+v %+v", cfg.Redis, cfg.Jackpot)
	}
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("RGS_LOG_LEVEL=debug\nRGS_RNG_SEED=42\n"), 0o600); err != nil {
		t.Fatalf("Failed to write dotenv: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("RGS_LOG_LEVEL")
		os.Unsetenv("RGS_RNG_SEED")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Game.RNGSeed != 42 {
		t.Errorf("Dotenv not applied: %+v %+v", cfg.Log, cfg.Game)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("RGS_LEDGER_MAX_RETRIES", "many")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("Expected parse env prefix, got %v", err)
	}
}
