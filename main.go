package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/api"
	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/auth"
	"github.com/alexbotov/slotengine/internal/config"
	"github.com/alexbotov/slotengine/internal/control"
	"github.com/alexbotov/slotengine/internal/database"
	"github.com/alexbotov/slotengine/internal/engine"
	"github.com/alexbotov/slotengine/internal/events"
	"github.com/alexbotov/slotengine/internal/game"
	"github.com/alexbotov/slotengine/internal/jackpot"
	"github.com/alexbotov/slotengine/internal/logger"
	"github.com/alexbotov/slotengine/internal/rng"
	"github.com/alexbotov/slotengine/internal/store"
	"github.com/alexbotov/slotengine/internal/store/memory"
	"github.com/alexbotov/slotengine/internal/store/sqlstore"
	"github.com/alexbotov/slotengine/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("slot engine stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		return memory.New(), nil
	}
	db, err := database.New(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return sqlstore.New(db), nil
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	log.Info("store ready", zap.String("driver", cfg.Database.Driver))

	catalog, err := game.LoadCatalog(cfg.Game.CatalogPath)
	if err != nil {
		return err
	}

	var src rng.Source = rng.NewCrypto()
	if cfg.Game.RNGSeed != 0 {
		src = rng.NewSeeded(cfg.Game.RNGSeed)
		log.Warn("seeded random source in use", zap.Uint64("seed", cfg.Game.RNGSeed))
	}

	auditSvc := audit.New(st, log)
	ctl := control.New(st, auditSvc)
	if err := ctl.LoadState(ctx); err != nil {
		return fmt.Errorf("load control state: %w", err)
	}

	var ledger wallet.Gateway = wallet.New(st, auditSvc)
	if cfg.Ledger.URL != "" {
		ledger = wallet.NewRemote(wallet.RemoteConfig{
			BaseURL:   cfg.Ledger.URL,
			APIKey:    cfg.Ledger.APIKey,
			APISecret: cfg.Ledger.APISecret,
			SiteCode:  cfg.Ledger.SiteCode,
			Timeout:   cfg.Ledger.Timeout,
		}, nil, log)
		log.Info("using remote ledger", zap.String("url", cfg.Ledger.URL))
	}
	gateway := wallet.NewRetrying(ledger, wallet.RetryPolicy{
		MaxRetries:     cfg.Ledger.MaxRetries,
		InitialBackoff: cfg.Ledger.InitialBackoff,
		MaxElapsed:     cfg.Ledger.MaxElapsed,
	}, log)

	broker := events.NewBroker()
	defer broker.Close()
	fanout := events.Fanout{broker}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		relay := events.NewRedisRelay(rdb, cfg.Redis.Channel, uuid.New().String(), broker, log)
		fanout = append(fanout, relay)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("redis relay stopped", zap.Error(err))
			}
		}()
	}

	if cfg.AMQP.URL != "" {
		alerts, err := events.DialAlerts(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			return err
		}
		defer alerts.Close()
		fanout = append(fanout, alerts)
	}

	jackpots := jackpot.New(st, gateway, src, fanout, auditSvc, log)
	if err := jackpots.Ensure(ctx, catalog.JackpotGames()); err != nil {
		return err
	}
	if cfg.Jackpot.GrowthInterval > 0 {
		go jackpots.RunGrowth(ctx, cfg.Jackpot.GrowthInterval)
	}

	eng := engine.New(engine.Deps{
		Catalog:   catalog,
		Store:     st,
		Wallet:    gateway,
		Jackpots:  jackpots,
		Control:   ctl,
		Audit:     auditSvc,
		Broker:    broker,
		Publisher: fanout,
		Source:    src,
		Logger:    log,
	})

	if res := eng.RNGHealth(ctx); !res.Healthy {
		return fmt.Errorf("random source failed start-up health check (chi-square %.2f)", res.ChiSquare)
	}

	handler := api.New(eng, ctl, auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), log)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("slot engine listening",
			zap.String("addr", srv.Addr),
			zap.Int("games", len(catalog.Games())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// websocket feeds end when the broker closes
	broker.Close()
	return srv.Shutdown(shutdownCtx)
}
