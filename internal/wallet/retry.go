package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/domain"
)

// RetryPolicy bounds the in-line retries of a ledger call
type RetryPolicy struct {
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxElapsed     time.Duration
}

// Retrying retries ErrUnavailable failures of the wrapped gateway with
// exponential backoff. References make the repeated calls safe.
type Retrying struct {
	next   Gateway
	policy RetryPolicy
	log    *zap.Logger
}

// NewRetrying wraps next with the retry policy
func NewRetrying(next Gateway, policy RetryPolicy, log *zap.Logger) *Retrying {
	return &Retrying{next: next, policy: policy, log: log.Named("wallet")}
}

func (r *Retrying) Debit(ctx context.Context, req Request) (*domain.Transaction, error) {
	return retry(ctx, r, "debit", req.Reference, func() (*domain.Transaction, error) {
		return r.next.Debit(ctx, req)
	})
}

func (r *Retrying) Credit(ctx context.Context, req Request) (*domain.Transaction, error) {
	return retry(ctx, r, "credit", req.Reference, func() (*domain.Transaction, error) {
		return r.next.Credit(ctx, req)
	})
}

func (r *Retrying) Balance(ctx context.Context, playerID, currency string) (int64, error) {
	return retry(ctx, r, "balance", playerID, func() (int64, error) {
		return r.next.Balance(ctx, playerID, currency)
	})
}

func retry[T any](ctx context.Context, r *Retrying, op, ref string, call func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialBackoff > 0 {
		b.InitialInterval = r.policy.InitialBackoff
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.policy.MaxRetries + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("ledger call failed, retrying",
				zap.String("op", op),
				zap.String("reference", ref),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	}
	if r.policy.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(r.policy.MaxElapsed))
	}

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := call()
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}
