package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/events"
	"github.com/alexbotov/slotengine/internal/game"
	"github.com/alexbotov/slotengine/internal/jackpot"
	"github.com/alexbotov/slotengine/internal/wallet"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LargeWinMultiplier marks wins reported as large wins
const LargeWinMultiplier = 50

// References used as ledger idempotency keys
func betRef(spinID string) string { return "spin:" + spinID + ":bet" }
func winRef(spinID string) string { return "spin:" + spinID + ":win" }

// Spin plays one round of a session.
//
// Bet and balance are checked before anything is mutated. A failed debit
// ends the spin before any grid is drawn. While free spins remain, the
// round is played at the bet that awarded them whatever bet is requested.
// If the win credit, a jackpot award or the spin's own record cannot be
// confirmed, both the result and a *ReconciliationError are returned.
func (e *Engine) Spin(ctx context.Context, sessionID string, bet int64) (*domain.SpinResult, error) {
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
	cfg, err := e.catalog.Game(sess.GameID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := e.control.CheckAccess(cfg.ID); err != nil {
		return nil, err
	}
	limits, ok := cfg.BetLimits(sess.Currency)
	if !ok {
		return nil, fmt.Errorf("%w: currency %q", ErrInvalidConfig, sess.Currency)
	}
	if bet < limits.Min || bet > limits.Max {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrBetOutOfRange, bet, limits.Min, limits.Max)
	}

	freeSpin := sess.FreeSpinsRemaining > 0
	if freeSpin && sess.FreeSpinBet > 0 {
		bet = sess.FreeSpinBet
	}
	if !freeSpin {
		if err := e.checkBalance(ctx, sess, bet); err != nil {
			return nil, err
		}
	}
	if sess.Status == domain.SessionCreated {
		if err := e.activate(ctx, sess); err != nil {
			return nil, err
		}
	}

	spinID := uuid.New().String()
	log := e.log.With(
		zap.String("spin_id", spinID),
		zap.String("session_id", sess.ID),
		zap.String("player_id", sess.PlayerID))

	var balance int64
	balanceKnown := false
	if !freeSpin {
		if balance, err = e.debit(ctx, sess, spinID, bet); err != nil {
			return nil, err
		}
		balanceKnown = true
	}

	outcome := game.Play(cfg, e.src, bet)

	var jackpotWon int64
	var jackpotErr, creditErr *ReconciliationError
	if cfg.Jackpot.Enabled() && !freeSpin {
		if _, err := e.jackpots.Contribute(ctx, cfg.ID, bet, sess.Currency); err != nil {
			log.Error("jackpot contribution failed", zap.Int64("bet", bet), zap.Error(err))
		}
		won, err := e.jackpots.CheckWin(ctx, jackpot.WinRequest{
			Game:      cfg,
			PlayerID:  sess.PlayerID,
			SessionID: sess.ID,
			SpinID:    spinID,
			Bet:       bet,
			Currency:  sess.Currency,
			Outcome:   outcome,
		})
		switch {
		case errors.Is(err, jackpot.ErrAwardUnconfirmed):
			jackpotErr = &ReconciliationError{
				SpinID: spinID, SessionID: sess.ID, PlayerID: sess.PlayerID,
				Amount: won, Currency: sess.Currency, Err: err,
			}
		case err != nil:
			log.Error("jackpot check failed", zap.Error(err))
		default:
			jackpotWon = won
			balance += won
		}
	}

	if outcome.BaseWin > 0 {
		tx, err := e.wallet.Credit(ctx, wallet.Request{
			PlayerID:    sess.PlayerID,
			Currency:    sess.Currency,
			Amount:      outcome.BaseWin,
			Type:        domain.TxTypeWin,
			Reference:   winRef(spinID),
			Description: fmt.Sprintf("Win on %s", cfg.ID),
		})
		if err != nil {
			creditErr = &ReconciliationError{
				SpinID: spinID, SessionID: sess.ID, PlayerID: sess.PlayerID,
				Amount: outcome.BaseWin, Currency: sess.Currency,
				Err: fmt.Errorf("%w: %v", ErrCreditUnconfirmed, err),
			}
		} else {
			balance = tx.BalanceAfter
			balanceKnown = true
		}
	}
	if !balanceKnown {
		if b, err := e.wallet.Balance(ctx, sess.PlayerID, sess.Currency); err == nil {
			balance = b
		} else {
			log.Warn("balance lookup failed", zap.Error(err))
		}
	}

	now := e.now()
	result := domain.NewSpinResult(domain.SpinParams{
		SpinID:        spinID,
		SessionID:     sess.ID,
		GameID:        cfg.ID,
		Currency:      sess.Currency,
		Bet:           bet,
		FreeSpin:      freeSpin,
		Outcome:       outcome,
		JackpotAmount: jackpotWon,
		Balance:       balance,
		CreatedAt:     now,
	})

	status := domain.SpinCompleted
	switch {
	case creditErr != nil:
		status = domain.SpinCreditPending
	case jackpotErr != nil:
		status = domain.SpinJackpotPending
	}
	if err := e.record(ctx, sess, result, status); err != nil {
		if creditErr != nil {
			e.creditUnconfirmed(ctx, creditErr)
		}
		rerr := &ReconciliationError{
			SpinID: spinID, SessionID: sess.ID, PlayerID: sess.PlayerID,
			Bet: bet, Amount: result.TotalWin, Currency: sess.Currency,
			Err: fmt.Errorf("%w: %w", ErrSpinNotRecorded, err),
		}
		e.spinUnrecorded(ctx, rerr, result)
		return result, rerr
	}

	e.report(ctx, sess, result)

	if creditErr != nil {
		e.creditUnconfirmed(ctx, creditErr)
		return result, creditErr
	}
	if jackpotErr != nil {
		return result, jackpotErr
	}
	return result, nil
}

func (e *Engine) checkBalance(ctx context.Context, sess *domain.Session, bet int64) error {
	bal, err := e.wallet.Balance(ctx, sess.PlayerID, sess.Currency)
	if err != nil {
		return fmt.Errorf("%w: balance: %v", ErrLedgerUnavailable, err)
	}
	if bal < bet {
		return fmt.Errorf("%w: balance %d, bet %d", ErrInsufficientBalance, bal, bet)
	}
	return nil
}

// activate moves a created session to Active ahead of its first bet
func (e *Engine) activate(ctx context.Context, sess *domain.Session) error {
	sess.Status = domain.SessionActive
	sess.UpdatedAt = e.now()
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		sess.Status = domain.SessionCreated
		return fmt.Errorf("activate session %s: %w", sess.ID, err)
	}
	return nil
}

// debit takes the bet. Nothing is mutated on error.
func (e *Engine) debit(ctx context.Context, sess *domain.Session, spinID string, bet int64) (int64, error) {
	tx, err := e.wallet.Debit(ctx, wallet.Request{
		PlayerID:    sess.PlayerID,
		Currency:    sess.Currency,
		Amount:      bet,
		Type:        domain.TxTypeWager,
		Reference:   betRef(spinID),
		Description: fmt.Sprintf("Bet on %s", sess.GameID),
	})
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return 0, fmt.Errorf("%w: bet %d", ErrInsufficientBalance, bet)
	case errors.Is(err, wallet.ErrUnavailable):
		return 0, err
	case err != nil:
		return 0, fmt.Errorf("%w: debit: %v", ErrLedgerUnavailable, err)
	}
	return tx.BalanceAfter, nil
}

// record persists the spin and folds it into the session totals.
// Totals count confirmed credits only; reconciliation adds the rest.
func (e *Engine) record(ctx context.Context, sess *domain.Session, res *domain.SpinResult, status domain.SpinStatus) error {
	outcome, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode spin %s: %w", res.SpinID, err)
	}
	won := res.TotalWin
	if status == domain.SpinCreditPending {
		won -= res.Outcome.BaseWin
	}
	rec := &domain.SpinRecord{
		SpinID:    res.SpinID,
		SessionID: sess.ID,
		PlayerID:  sess.PlayerID,
		GameID:    res.GameID,
		Currency:  res.Currency,
		Bet:       res.Bet,
		BaseWin:   res.Outcome.BaseWin,
		TotalWin:  won,
		FreeSpin:  res.FreeSpin,
		Status:    status,
		Outcome:   outcome,
		CreatedAt: res.CreatedAt,
		UpdatedAt: res.CreatedAt,
	}
	if err := e.store.SaveSpin(ctx, rec); err != nil {
		return fmt.Errorf("save spin %s: %w", res.SpinID, err)
	}

	sess.SpinCount++
	sess.TotalWin += won
	if res.FreeSpin {
		sess.FreeSpinsRemaining--
	} else {
		sess.TotalBet += res.Bet
	}
	if n := res.Outcome.Features.FreeSpinsAwarded; n > 0 {
		if !res.FreeSpin {
			sess.FreeSpinBet = res.Bet
		}
		sess.FreeSpinsRemaining += n
	}
	if sess.FreeSpinsRemaining <= 0 {
		sess.FreeSpinsRemaining = 0
		sess.FreeSpinBet = 0
	}
	sess.UpdatedAt = res.CreatedAt
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	return nil
}

// report writes the audit trail of a finished spin
func (e *Engine) report(ctx context.Context, sess *domain.Session, res *domain.SpinResult) {
	opts := []audit.EventOption{audit.WithPlayer(sess.PlayerID), audit.WithSession(sess.ID)}

	e.audit.Log(ctx, audit.EventSpinComplete, domain.SeverityInfo,
		fmt.Sprintf("Spin on %s: bet %d, win %d", res.GameID, res.Bet, res.TotalWin),
		map[string]interface{}{
			"spin_id":   res.SpinID,
			"bet":       res.Bet,
			"total_win": res.TotalWin,
			"free_spin": res.FreeSpin,
		},
		opts...)

	if res.Multiplier >= LargeWinMultiplier {
		e.audit.Log(ctx, audit.EventLargeWin, domain.SeverityWarning,
			fmt.Sprintf("Large win: %.0fx bet", res.Multiplier),
			map[string]interface{}{
				"spin_id":    res.SpinID,
				"total_win":  res.TotalWin,
				"multiplier": res.Multiplier,
			},
			opts...)
	}

	if n := res.Outcome.Features.FreeSpinsAwarded; n > 0 {
		e.audit.Log(ctx, audit.EventFreeSpinsAwarded, domain.SeverityInfo,
			fmt.Sprintf("%d free spins awarded", n),
			map[string]interface{}{"spin_id": res.SpinID, "free_spins": n},
			opts...)
	}
}

func (e *Engine) creditUnconfirmed(ctx context.Context, rerr *ReconciliationError) {
	e.log.Error("win credit unconfirmed",
		zap.String("spin_id", rerr.SpinID),
		zap.String("session_id", rerr.SessionID),
		zap.String("player_id", rerr.PlayerID),
		zap.Int64("amount", rerr.Amount),
		zap.String("currency", rerr.Currency),
		zap.Error(rerr.Err))

	e.audit.Log(ctx, audit.EventCreditUnconfirmed, domain.SeverityCritical,
		fmt.Sprintf("Win credit of %d %s unconfirmed", rerr.Amount, rerr.Currency),
		map[string]interface{}{
			"spin_id": rerr.SpinID,
			"amount":  rerr.Amount,
			"error":   rerr.Err.Error(),
		},
		audit.WithPlayer(rerr.PlayerID), audit.WithSession(rerr.SessionID))

	e.pub.Publish(ctx, events.Event{
		Type:      events.TypeAlert,
		Alert:     events.AlertCreditUnconfirmed,
		Severity:  string(domain.SeverityCritical),
		Amount:    decimal.NewFromInt(rerr.Amount),
		Currency:  rerr.Currency,
		PlayerID:  rerr.PlayerID,
		SessionID: rerr.SessionID,
		SpinID:    rerr.SpinID,
		Message:   rerr.Err.Error(),
		At:        e.now(),
	})
}

func (e *Engine) spinUnrecorded(ctx context.Context, rerr *ReconciliationError, res *domain.SpinResult) {
	e.log.Error("spin not recorded",
		zap.String("spin_id", rerr.SpinID),
		zap.String("session_id", rerr.SessionID),
		zap.String("player_id", rerr.PlayerID),
		zap.Int64("bet", rerr.Bet),
		zap.Int64("total_win", rerr.Amount),
		zap.Bool("free_spin", res.FreeSpin),
		zap.Error(rerr.Err))

	e.audit.Log(ctx, audit.EventSpinUnrecorded, domain.SeverityCritical,
		fmt.Sprintf("Spin %s settled but not recorded", rerr.SpinID),
		map[string]interface{}{
			"spin_id":   rerr.SpinID,
			"bet":       rerr.Bet,
			"total_win": rerr.Amount,
			"free_spin": res.FreeSpin,
			"error":     rerr.Err.Error(),
		},
		audit.WithPlayer(rerr.PlayerID), audit.WithSession(rerr.SessionID))

	e.pub.Publish(ctx, events.Event{
		Type:      events.TypeAlert,
		Alert:     events.AlertSpinUnrecorded,
		Severity:  string(domain.SeverityCritical),
		GameID:    res.GameID,
		Amount:    decimal.NewFromInt(rerr.Amount),
		Currency:  rerr.Currency,
		PlayerID:  rerr.PlayerID,
		SessionID: rerr.SessionID,
		SpinID:    rerr.SpinID,
		Message:   rerr.Err.Error(),
		At:        e.now(),
	})
}
