package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
	"github.com/alexbotov/slotengine/internal/wallet"
)

// Reconciliation lists the money movements waiting for an operator
type Reconciliation struct {
	Credits  []*domain.SpinRecord `json:"credits"`
	Jackpots []*domain.JackpotWin `json:"jackpots"`
}

// PendingCredits lists spins whose win credit is unconfirmed
func (e *Engine) PendingCredits(ctx context.Context) ([]*domain.SpinRecord, error) {
	return e.store.SpinsByStatus(ctx, domain.SpinCreditPending)
}

// PendingReconciliation lists unconfirmed win credits and jackpot awards
func (e *Engine) PendingReconciliation(ctx context.Context) (*Reconciliation, error) {
	credits, err := e.PendingCredits(ctx)
	if err != nil {
		return nil, err
	}
	wins, err := e.jackpots.PendingAwards(ctx)
	if err != nil {
		return nil, err
	}
	if credits == nil {
		credits = []*domain.SpinRecord{}
	}
	if wins == nil {
		wins = []*domain.JackpotWin{}
	}
	return &Reconciliation{Credits: credits, Jackpots: wins}, nil
}

// ReconcileCredit repeats the win credit of a credit_pending spin. It is
// an operator action and reuses the spin's credit reference, so a credit
// that already landed is not paid again.
func (e *Engine) ReconcileCredit(ctx context.Context, spinID, operator string) (*domain.SpinRecord, error) {
	rec, err := e.spin(ctx, spinID)
	if err != nil {
		return nil, err
	}
	if !e.tryLock(rec.SessionID) {
		return nil, ErrSpinInProgress
	}
	defer e.unlock(rec.SessionID)

	// reload under the session lock
	if rec, err = e.spin(ctx, spinID); err != nil {
		return nil, err
	}
	if rec.Status != domain.SpinCreditPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, spinID, rec.Status)
	}

	_, err = e.wallet.Credit(ctx, wallet.Request{
		PlayerID:    rec.PlayerID,
		Currency:    rec.Currency,
		Amount:      rec.BaseWin,
		Type:        domain.TxTypeWin,
		Reference:   winRef(rec.SpinID),
		Description: fmt.Sprintf("Win on %s (reconciled)", rec.GameID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreditUnconfirmed, err)
	}

	rec.Status = domain.SpinCompleted
	if e.jackpotPending(ctx, rec.SpinID) {
		rec.Status = domain.SpinJackpotPending
	}
	if err := e.settleSpin(ctx, rec, rec.BaseWin); err != nil {
		return nil, err
	}

	e.log.Info("win credit reconciled",
		zap.String("spin_id", rec.SpinID),
		zap.String("session_id", rec.SessionID),
		zap.Int64("amount", rec.BaseWin),
		zap.String("operator", operator))
	e.audit.Log(ctx, audit.EventReconciled, domain.SeverityWarning,
		fmt.Sprintf("Win credit of %d %s reconciled", rec.BaseWin, rec.Currency),
		map[string]interface{}{"spin_id": rec.SpinID, "amount": rec.BaseWin, "operator": operator},
		audit.WithPlayer(rec.PlayerID), audit.WithSession(rec.SessionID))

	return rec, nil
}

// ReconcileJackpot repeats the credit of a pending jackpot award and adds
// it to its spin and session. A spin still waiting for its win credit
// stays credit_pending.
func (e *Engine) ReconcileJackpot(ctx context.Context, winID, operator string) (*domain.JackpotWin, error) {
	win, err := e.jackpots.Award(ctx, winID)
	if err != nil {
		return nil, err
	}

	rec, err := e.store.GetSpin(ctx, win.SpinID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = nil
	case err != nil:
		return nil, err
	default:
		if !e.tryLock(rec.SessionID) {
			return nil, ErrSpinInProgress
		}
		defer e.unlock(rec.SessionID)
	}

	if win, err = e.jackpots.Award(ctx, winID); err != nil {
		return nil, err
	}
	if win.Status == domain.JackpotWinConfirmed {
		return nil, fmt.Errorf("%w: award %s is %s", ErrNotPending, winID, win.Status)
	}
	if win, err = e.jackpots.RetryAward(ctx, winID); err != nil {
		return nil, err
	}

	if rec != nil {
		if rec, err = e.spin(ctx, win.SpinID); err != nil {
			return nil, err
		}
		if rec.Status == domain.SpinJackpotPending {
			rec.Status = domain.SpinCompleted
		}
		if err := e.settleSpin(ctx, rec, win.Amount); err != nil {
			return nil, err
		}
	}

	e.audit.Log(ctx, audit.EventReconciled, domain.SeverityWarning,
		fmt.Sprintf("Jackpot award of %d %s reconciled", win.Amount, win.Currency),
		map[string]interface{}{"win_id": win.ID, "spin_id": win.SpinID, "operator": operator},
		audit.WithPlayer(win.PlayerID), audit.WithComponent("jackpot"))

	return win, nil
}

func (e *Engine) spin(ctx context.Context, spinID string) (*domain.SpinRecord, error) {
	rec, err := e.store.GetSpin(ctx, spinID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSpinNotFound, spinID)
	}
	return rec, err
}

// settleSpin adds a confirmed credit to the spin and its session totals.
// Caller holds the session lock.
func (e *Engine) settleSpin(ctx context.Context, rec *domain.SpinRecord, amount int64) error {
	now := e.now()
	rec.TotalWin += amount
	rec.UpdatedAt = now
	if err := e.store.SaveSpin(ctx, rec); err != nil {
		return fmt.Errorf("save spin %s: %w", rec.SpinID, err)
	}

	sess, err := e.store.GetSession(ctx, rec.SessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", rec.SessionID, err)
	}
	sess.TotalWin += amount
	sess.UpdatedAt = now
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	return nil
}

func (e *Engine) jackpotPending(ctx context.Context, spinID string) bool {
	wins, err := e.jackpots.PendingAwards(ctx)
	if err != nil {
		return false
	}
	for _, w := range wins {
		if w.SpinID == spinID {
			return true
		}
	}
	return false
}
