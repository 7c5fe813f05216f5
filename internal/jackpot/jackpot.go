// Package jackpot owns the jackpot pools of the slot engine.
//
// Every write to a pool happens under that pool's own lock, so games never
// contend with each other. An award is recorded as pending before the
// credit and only reset after the credit is confirmed; a failed credit
// leaves the pool untouched and the win queued for reconciliation.
package jackpot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/events"
	"github.com/alexbotov/slotengine/internal/rng"
	"github.com/alexbotov/slotengine/internal/store"
	"github.com/alexbotov/slotengine/internal/wallet"
)

var (
	ErrNoJackpot        = errors.New("game has no jackpot")
	ErrAwardUnconfirmed = errors.New("jackpot award credit unconfirmed")
	ErrAlreadyAwarded   = errors.New("jackpot already awarded for spin")
	ErrAwardNotFound    = errors.New("jackpot award not found")
)

// Trigger policy
const (
	DefaultTriggerProbability = 0.00001
	MaxTriggerProbability     = 0.001
)

// WinRequest is the spin a jackpot win is checked against
type WinRequest struct {
	Game      *domain.GameConfig
	PlayerID  string
	SessionID string
	SpinID    string
	Bet       int64
	Currency  string
	Outcome   domain.Outcome
}

// Ledger serialises every change of a pool per game
type Ledger struct {
	store   store.JackpotStore
	gateway wallet.Gateway
	src     rng.Source
	pub     events.Publisher
	audit   *audit.Service
	log     *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a jackpot ledger
func New(st store.JackpotStore, gw wallet.Gateway, src rng.Source, pub events.Publisher, auditSvc *audit.Service, log *zap.Logger) *Ledger {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Ledger{
		store:   st,
		gateway: gw,
		src:     src,
		pub:     pub,
		audit:   auditSvc,
		log:     log.Named("jackpot"),
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lock(gameID string) func() {
	l.mu.Lock()
	m, ok := l.locks[gameID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[gameID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Ensure creates a pool at its seed for every game carrying a jackpot.
// Pools that already exist keep their persisted amount.
func (l *Ledger) Ensure(ctx context.Context, games []*domain.GameConfig) error {
	for _, g := range games {
		if !g.Jackpot.Enabled() {
			continue
		}
		spec := g.Jackpot
		prob := spec.TriggerProbability
		if prob <= 0 {
			prob = DefaultTriggerProbability
		}
		now := l.now()
		j, err := l.store.EnsureJackpot(ctx, &domain.Jackpot{
			ID:                 uuid.New().String(),
			GameID:             g.ID,
			Type:               spec.Type,
			Amount:             decimal.NewFromInt(spec.Seed),
			Currency:           spec.Currency,
			ContributionRate:   decimal.NewFromFloat(spec.ContributionRate),
			MinBet:             spec.MinBet,
			SeedAmount:         spec.Seed,
			TotalContributions: decimal.Zero,
			TriggerProbability: prob,
			GrowthPerTick:      spec.GrowthPerTick,
			Active:             true,
			UpdatedAt:          now,
		})
		if err != nil {
			return fmt.Errorf("ensure jackpot for %s: %w", g.ID, err)
		}
		l.log.Info("jackpot ready",
			zap.String("game_id", g.ID),
			zap.String("amount", j.Amount.String()),
			zap.String("currency", j.Currency))
	}
	return nil
}

// Jackpot returns the current state of a game's pool
func (l *Ledger) Jackpot(ctx context.Context, gameID string) (*domain.Jackpot, error) {
	j, err := l.store.GetJackpot(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoJackpot, gameID)
	}
	return j, err
}

// Amount returns the current pool amount of a game
func (l *Ledger) Amount(ctx context.Context, gameID string) (decimal.Decimal, error) {
	j, err := l.Jackpot(ctx, gameID)
	if err != nil {
		return decimal.Zero, err
	}
	return j.Amount, nil
}

// Jackpots lists every pool
func (l *Ledger) Jackpots(ctx context.Context) ([]*domain.Jackpot, error) {
	return l.store.ListJackpots(ctx)
}

// Contribute adds bet*rate to a progressive pool. Bets below the minimum,
// other currencies, fixed and inactive pools are ignored.
func (l *Ledger) Contribute(ctx context.Context, gameID string, bet int64, currency string) (decimal.Decimal, error) {
	unlock := l.lock(gameID)
	defer unlock()

	j, err := l.Jackpot(ctx, gameID)
	if err != nil {
		return decimal.Zero, err
	}
	if !j.Active || j.Type != domain.JackpotProgressive || currency != j.Currency || bet < j.MinBet {
		return decimal.Zero, nil
	}

	c := decimal.NewFromInt(bet).Mul(j.ContributionRate)
	if !c.IsPositive() {
		return decimal.Zero, nil
	}
	j.Amount = j.Amount.Add(c)
	j.TotalContributions = j.TotalContributions.Add(c)
	j.UpdatedAt = l.now()
	if err := l.store.SaveJackpot(ctx, j); err != nil {
		return decimal.Zero, fmt.Errorf("save jackpot %s: %w", gameID, err)
	}

	l.publishUpdate(ctx, j)
	return c, nil
}

// Triggered applies the trigger policy to one spin. The designated jackpot
// symbol on a full-length win line always triggers; otherwise a draw below
// min(MaxTriggerProbability, TriggerProbability*bet/MinBet) does.
func Triggered(j *domain.Jackpot, game *domain.GameConfig, outcome domain.Outcome, bet int64, src rng.Source) bool {
	if game != nil && game.JackpotSymbol != "" {
		for _, w := range outcome.WinLines {
			if w.Symbol == game.JackpotSymbol && w.RunLength >= game.Reels {
				return true
			}
		}
	}
	return src.Float64() < Probability(j, bet)
}

// Probability is the chance a qualifying bet triggers the pool by draw
func Probability(j *domain.Jackpot, bet int64) float64 {
	p := j.TriggerProbability
	if p <= 0 {
		p = DefaultTriggerProbability
	}
	minBet := j.MinBet
	if minBet < 1 {
		minBet = 1
	}
	return math.Min(MaxTriggerProbability, p*float64(bet)/float64(minBet))
}

// CheckWin evaluates the trigger for a spin and pays the pool on a hit.
// It returns the awarded amount, or 0 when nothing was won. When the
// credit cannot be confirmed the pool is left as it was, the win stays
// pending and the returned error wraps ErrAwardUnconfirmed.
func (l *Ledger) CheckWin(ctx context.Context, req WinRequest) (int64, error) {
	unlock := l.lock(req.Game.ID)
	defer unlock()

	j, err := l.Jackpot(ctx, req.Game.ID)
	if err != nil {
		return 0, err
	}
	if !j.Active || req.Bet < j.MinBet || req.Currency != j.Currency || j.PendingWinID != "" {
		return 0, nil
	}
	if !Triggered(j, req.Game, req.Outcome, req.Bet, l.src) {
		return 0, nil
	}

	payable := j.Payable()
	if payable <= 0 {
		return 0, nil
	}

	now := l.now()
	win := &domain.JackpotWin{
		ID:        uuid.New().String(),
		JackpotID: j.ID,
		GameID:    j.GameID,
		PlayerID:  req.PlayerID,
		SpinID:    req.SpinID,
		Amount:    payable,
		Currency:  j.Currency,
		Status:    domain.JackpotWinPending,
		CreatedAt: now,
	}
	// the sub-unit remainder stays in the pool and is carried over the seed
	j.PendingWinID = win.ID
	j.UpdatedAt = now
	if err := l.store.BeginJackpotAward(ctx, j, win); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return 0, fmt.Errorf("%w: %s", ErrAlreadyAwarded, req.SpinID)
		}
		return 0, fmt.Errorf("record jackpot award: %w", err)
	}

	l.log.Info("jackpot triggered",
		zap.String("game_id", j.GameID),
		zap.String("win_id", win.ID),
		zap.String("spin_id", req.SpinID),
		zap.String("player_id", req.PlayerID),
		zap.Int64("amount", payable))

	if err := l.award(ctx, j, win, req.SessionID); err != nil {
		return payable, err
	}
	return payable, nil
}

// award credits a pending win and settles the pool. Caller holds the lock.
func (l *Ledger) award(ctx context.Context, j *domain.Jackpot, win *domain.JackpotWin, sessionID string) error {
	_, err := l.gateway.Credit(ctx, wallet.Request{
		PlayerID:    win.PlayerID,
		Currency:    win.Currency,
		Amount:      win.Amount,
		Type:        domain.TxTypeJackpot,
		Reference:   "jackpot:" + win.SpinID,
		Description: fmt.Sprintf("Jackpot %s", win.GameID),
	})
	if err == nil {
		err = l.settle(ctx, j, win)
	}
	if err != nil {
		l.unconfirmed(ctx, win, sessionID, err)
		return fmt.Errorf("%w: win %s: %v", ErrAwardUnconfirmed, win.ID, err)
	}

	l.audit.Log(ctx, audit.EventJackpotWon, domain.SeverityInfo,
		fmt.Sprintf("Jackpot won on %s: %d %s", win.GameID, win.Amount, win.Currency),
		map[string]interface{}{
			"win_id":  win.ID,
			"spin_id": win.SpinID,
			"game_id": win.GameID,
			"amount":  win.Amount,
		},
		audit.WithPlayer(win.PlayerID), audit.WithComponent("jackpot"))

	l.pub.Publish(ctx, events.Event{
		Type:      events.TypeJackpotWon,
		GameID:    win.GameID,
		JackpotID: win.JackpotID,
		Amount:    decimal.NewFromInt(win.Amount),
		Currency:  win.Currency,
		PlayerID:  win.PlayerID,
		SpinID:    win.SpinID,
		At:        l.now(),
	})
	l.publishUpdate(ctx, j)
	return nil
}

// settle resets the pool after a confirmed credit. Contributions that
// arrived while the award was pending are carried over the seed.
func (l *Ledger) settle(ctx context.Context, j *domain.Jackpot, win *domain.JackpotWin) error {
	now := l.now()
	since := j.Amount.Sub(decimal.NewFromInt(win.Amount))
	if since.IsNegative() {
		since = decimal.Zero
	}

	settled := *j
	settled.Amount = decimal.NewFromInt(j.SeedAmount).Add(since)
	settled.LastWonAt = &now
	settled.LastWinner = win.PlayerID
	settled.PendingWinID = ""
	settled.UpdatedAt = now

	confirmed := *win
	confirmed.Status = domain.JackpotWinConfirmed
	confirmed.ConfirmedAt = &now

	if err := l.store.SettleJackpotAward(ctx, &settled, &confirmed); err != nil {
		return fmt.Errorf("settle jackpot award: %w", err)
	}
	*j = settled
	*win = confirmed
	return nil
}

func (l *Ledger) unconfirmed(ctx context.Context, win *domain.JackpotWin, sessionID string, cause error) {
	l.log.Error("jackpot award unconfirmed",
		zap.String("win_id", win.ID),
		zap.String("spin_id", win.SpinID),
		zap.String("session_id", sessionID),
		zap.String("player_id", win.PlayerID),
		zap.Int64("amount", win.Amount),
		zap.String("currency", win.Currency),
		zap.Error(cause))

	opts := []audit.EventOption{audit.WithPlayer(win.PlayerID), audit.WithComponent("jackpot")}
	if sessionID != "" {
		opts = append(opts, audit.WithSession(sessionID))
	}
	l.audit.Log(ctx, audit.EventJackpotUnconfirmed, domain.SeverityCritical,
		fmt.Sprintf("Jackpot award %s unconfirmed", win.ID),
		map[string]interface{}{
			"win_id":  win.ID,
			"spin_id": win.SpinID,
			"amount":  win.Amount,
			"error":   cause.Error(),
		},
		opts...)

	l.pub.Publish(ctx, events.Event{
		Type:      events.TypeAlert,
		Alert:     events.AlertJackpotUnconfirmed,
		Severity:  string(domain.SeverityCritical),
		GameID:    win.GameID,
		JackpotID: win.JackpotID,
		Amount:    decimal.NewFromInt(win.Amount),
		Currency:  win.Currency,
		PlayerID:  win.PlayerID,
		SessionID: sessionID,
		SpinID:    win.SpinID,
		Message:   cause.Error(),
		At:        l.now(),
	})
}

// Award returns a jackpot win by id
func (l *Ledger) Award(ctx context.Context, winID string) (*domain.JackpotWin, error) {
	win, err := l.store.GetJackpotWin(ctx, winID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAwardNotFound, winID)
	}
	return win, err
}

// PendingAwards lists awards whose credit is not confirmed
func (l *Ledger) PendingAwards(ctx context.Context) ([]*domain.JackpotWin, error) {
	return l.store.PendingJackpotWins(ctx)
}

// RetryAward repeats the credit of a pending award and settles the pool.
// The credit reference is the same as the first attempt, so a credit that
// did land is not paid twice.
func (l *Ledger) RetryAward(ctx context.Context, winID string) (*domain.JackpotWin, error) {
	win, err := l.Award(ctx, winID)
	if err != nil {
		return nil, err
	}

	unlock := l.lock(win.GameID)
	defer unlock()

	// reload under the lock
	if win, err = l.store.GetJackpotWin(ctx, winID); err != nil {
		return nil, err
	}
	if win.Status == domain.JackpotWinConfirmed {
		return win, nil
	}
	j, err := l.Jackpot(ctx, win.GameID)
	if err != nil {
		return nil, err
	}
	if err := l.award(ctx, j, win, ""); err != nil {
		return nil, err
	}
	return win, nil
}

// Grow adds the passive growth of every progressive pool once
func (l *Ledger) Grow(ctx context.Context) error {
	pools, err := l.store.ListJackpots(ctx)
	if err != nil {
		return err
	}
	for _, p := range pools {
		if p.Type != domain.JackpotProgressive || p.GrowthPerTick <= 0 {
			continue
		}
		if err := l.grow(ctx, p.GameID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) grow(ctx context.Context, gameID string) error {
	unlock := l.lock(gameID)
	defer unlock()

	j, err := l.Jackpot(ctx, gameID)
	if err != nil {
		return err
	}
	if !j.Active {
		return nil
	}
	j.Amount = j.Amount.Add(decimal.NewFromInt(j.GrowthPerTick))
	j.UpdatedAt = l.now()
	if err := l.store.SaveJackpot(ctx, j); err != nil {
		return fmt.Errorf("save jackpot %s: %w", gameID, err)
	}
	l.publishUpdate(ctx, j)
	return nil
}

// RunGrowth applies passive growth every interval until ctx is done
func (l *Ledger) RunGrowth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Grow(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn("passive growth failed", zap.Error(err))
			}
		}
	}
}

func (l *Ledger) publishUpdate(ctx context.Context, j *domain.Jackpot) {
	l.pub.Publish(ctx, events.Event{
		Type:      events.TypeJackpotUpdated,
		GameID:    j.GameID,
		JackpotID: j.ID,
		Amount:    j.Amount,
		Currency:  j.Currency,
		At:        j.UpdatedAt,
	})
}
