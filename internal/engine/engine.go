// Package engine runs slot play sessions.
//
// An Engine is built once per process and owns the spin pipeline: bet
// validation, debit, outcome generation, win and feature evaluation,
// jackpot contribution and award, credit and session bookkeeping.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/control"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/events"
	"github.com/alexbotov/slotengine/internal/game"
	"github.com/alexbotov/slotengine/internal/jackpot"
	"github.com/alexbotov/slotengine/internal/rng"
	"github.com/alexbotov/slotengine/internal/store"
	"github.com/alexbotov/slotengine/internal/wallet"
)

var (
	ErrInvalidConfig           = errors.New("invalid game configuration")
	ErrBetOutOfRange           = errors.New("bet out of range")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionClosed           = errors.New("session closed")
	ErrSpinInProgress          = errors.New("spin already in progress for session")
	ErrCreditUnconfirmed       = errors.New("win credit unconfirmed")
	ErrSpinNotFound            = errors.New("spin not found")
	ErrNotPending              = errors.New("nothing pending to reconcile")
	ErrSpinNotRecorded         = errors.New("spin not recorded")
	ErrLedgerUnavailable       = wallet.ErrUnavailable
	ErrJackpotAwardUnconfirmed = jackpot.ErrAwardUnconfirmed
	ErrGameDisabled            = control.ErrGameDisabled
	ErrGamingDisabled          = control.ErrGamingDisabled
)

// ReconciliationError reports a spin whose money movement or bookkeeping
// did not complete and needs an operator action. Amount is the unconfirmed
// credit, or for an unrecorded spin the win already paid.
type ReconciliationError struct {
	SpinID    string
	SessionID string
	PlayerID  string
	Bet       int64
	Amount    int64
	Currency  string
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("spin %s (session %s): bet %d, amount %d %s: %v",
		e.SpinID, e.SessionID, e.Bet, e.Amount, e.Currency, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// Store is the persistence the engine needs
type Store interface {
	store.SessionStore
	store.SpinStore
}

// Deps are the collaborators of an Engine
type Deps struct {
	Catalog  *game.Catalog
	Store    Store
	Wallet   wallet.Gateway
	Jackpots *jackpot.Ledger
	Control  *control.Service
	Audit    *audit.Service
	Broker   *events.Broker
	// Publisher receives alerts; defaults to Broker
	Publisher events.Publisher
	Source    rng.Source
	Logger    *zap.Logger
}

// Engine is the slot engine of one process
type Engine struct {
	catalog  *game.Catalog
	store    Store
	wallet   wallet.Gateway
	jackpots *jackpot.Ledger
	control  *control.Service
	audit    *audit.Service
	broker   *events.Broker
	pub      events.Publisher
	src      rng.Source
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	spinning map[string]struct{}
}

// New creates a new engine
func New(d Deps) *Engine {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	pub := d.Publisher
	switch {
	case pub != nil:
	case d.Broker != nil:
		pub = d.Broker
	default:
		pub = events.Nop{}
	}
	return &Engine{
		catalog:  d.Catalog,
		store:    d.Store,
		wallet:   d.Wallet,
		jackpots: d.Jackpots,
		control:  d.Control,
		audit:    d.Audit,
		broker:   d.Broker,
		pub:      pub,
		src:      d.Source,
		log:      log.Named("engine"),
		now:      func() time.Time { return time.Now().UTC() },
		spinning: make(map[string]struct{}),
	}
}

// tryLock claims the session for one spin; it never waits
func (e *Engine) tryLock(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.spinning[sessionID]; busy {
		return false
	}
	e.spinning[sessionID] = struct{}{}
	return true
}

func (e *Engine) unlock(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.spinning, sessionID)
}

// Games returns the catalog sorted by id
func (e *Engine) Games() []*domain.GameConfig {
	return e.catalog.Games()
}

// Game returns one game definition
func (e *Engine) Game(id string) (*domain.GameConfig, error) {
	return e.catalog.Game(id)
}

// OpenSession starts a session of playerID on gameID in currency
func (e *Engine) OpenSession(ctx context.Context, gameID, playerID, currency string) (*domain.Session, error) {
	cfg, err := e.catalog.Game(gameID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, ok := cfg.BetLimits(currency); !ok {
		return nil, fmt.Errorf("%w: game %s does not support currency %q", ErrInvalidConfig, gameID, currency)
	}
	if playerID == "" {
		return nil, fmt.Errorf("%w: player id is required", ErrInvalidConfig)
	}
	if err := e.control.CheckAccess(gameID); err != nil {
		return nil, err
	}

	now := e.now()
	sess := &domain.Session{
		ID:        uuid.New().String(),
		PlayerID:  playerID,
		GameID:    gameID,
		Currency:  currency,
		Status:    domain.SessionCreated,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	e.audit.Log(ctx, audit.EventGameSessionStart, domain.SeverityInfo,
		fmt.Sprintf("Game session started: %s", cfg.Name),
		map[string]string{"session_id": sess.ID, "game_id": gameID, "currency": currency},
		audit.WithPlayer(playerID), audit.WithSession(sess.ID))

	return sess, nil
}

// Session returns a session by id
func (e *Engine) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, err
}

// CloseSession ends a session; later spins fail with ErrSessionClosed.
// Unplayed free spins are forfeited.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if !e.tryLock(sessionID) {
		return nil, ErrSpinInProgress
	}
	defer e.unlock(sessionID)

	sess, err := e.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.SessionEnded {
		return nil, ErrSessionClosed
	}

	now := e.now()
	forfeited := sess.FreeSpinsRemaining
	sess.Status = domain.SessionEnded
	sess.EndedAt = &now
	sess.UpdatedAt = now
	sess.FreeSpinsRemaining = 0
	sess.FreeSpinBet = 0
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}

	e.audit.Log(ctx, audit.EventGameSessionEnd, domain.SeverityInfo,
		fmt.Sprintf("Game session ended: %d spins played", sess.SpinCount),
		map[string]interface{}{
			"session_id":           sess.ID,
			"spin_count":           sess.SpinCount,
			"total_bet":            sess.TotalBet,
			"total_win":            sess.TotalWin,
			"free_spins_forfeited": forfeited,
		},
		audit.WithPlayer(sess.PlayerID), audit.WithSession(sess.ID))

	return sess, nil
}

// History returns the newest spins of a session first
func (e *Engine) History(ctx context.Context, sessionID string, limit int) ([]*domain.SpinRecord, error) {
	if _, err := e.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.store.ListSpins(ctx, sessionID, limit)
}

// Balance returns a player's balance through the ledger gateway
func (e *Engine) Balance(ctx context.Context, playerID, currency string) (int64, error) {
	return e.wallet.Balance(ctx, playerID, currency)
}

// JackpotAmount returns the current pool of a game
func (e *Engine) JackpotAmount(ctx context.Context, gameID string) (decimal.Decimal, error) {
	return e.jackpots.Amount(ctx, gameID)
}

// Jackpot returns the pool state of a game
func (e *Engine) Jackpot(ctx context.Context, gameID string) (*domain.Jackpot, error) {
	return e.jackpots.Jackpot(ctx, gameID)
}

// Jackpots returns every pool ordered by game id
func (e *Engine) Jackpots(ctx context.Context) ([]*domain.Jackpot, error) {
	return e.jackpots.Jackpots(ctx)
}

// Subscribe returns a channel of engine events and its cancel func
func (e *Engine) Subscribe(buffer int) (<-chan events.Event, func()) {
	if e.broker == nil {
		ch := make(chan events.Event)
		close(ch)
		return ch, func() {}
	}
	return e.broker.Subscribe(buffer)
}

// RNGHealth samples the engine's random source
func (e *Engine) RNGHealth(ctx context.Context) *rng.HealthResult {
	res := rng.HealthCheck(e.src)
	if !res.Healthy {
		e.audit.Log(ctx, audit.EventRNGHealthCheck, domain.SeverityCritical,
			"RNG health check failed",
			map[string]interface{}{"chi_square": res.ChiSquare},
			audit.WithComponent("rng"))
		e.pub.Publish(ctx, events.Event{
			Type:     events.TypeAlert,
			Alert:    events.AlertRNGHealth,
			Severity: string(domain.SeverityCritical),
			Message:  fmt.Sprintf("chi-square %.2f", res.ChiSquare),
			At:       res.Timestamp,
		})
	}
	return res
}
