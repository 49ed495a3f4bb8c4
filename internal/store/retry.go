package store

import (
	"context"
	"errors"
	"time"

	"dailymed-etl/internal/model"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// RetryRepository decorates another Repository, retrying writes that fail
// with anything other than ErrNotFound or ErrWriteApplied. Reads are passed
// through.
//
// If attempts is < 1, it defaults to 1 (no retries).
// If delayMs is 0, it defaults to 1000ms.
type RetryRepository struct {
	inner    Repository
	attempts int
	delay    time.Duration
	log      logrus.FieldLogger
}

// retryReplacer adds Replace when the wrapped repository supports it, so the
// decorator does not hide the atomic swap from callers.
type retryReplacer struct {
	*RetryRepository
	replacer Replacer
}

// NewRetryRepository builds a Repository with retry behaviour around inner.
// The result implements Replacer exactly when inner does.
func NewRetryRepository(inner Repository, attempts, delayMs int, log logrus.FieldLogger) Repository {
	if attempts < 1 {
		attempts = 1
	}
	if delayMs == 0 {
		delayMs = 1000
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := &RetryRepository{
		inner:    inner,
		attempts: attempts,
		delay:    time.Duration(delayMs) * time.Millisecond,
		log:      log,
	}
	if rep, ok := inner.(Replacer); ok {
		return &retryReplacer{RetryRepository: r, replacer: rep}
	}
	return r
}

func (r *RetryRepository) FindAll(ctx context.Context, query string) ([]model.Indication, error) {
	return r.inner.FindAll(ctx, query)
}

func (r *RetryRepository) FindByID(ctx context.Context, id int64) (model.Indication, error) {
	return r.inner.FindByID(ctx, id)
}

func (r *RetryRepository) Create(ctx context.Context, ind *model.Indication) error {
	return r.do(ctx, "create", func() error { return r.inner.Create(ctx, ind) })
}

func (r *RetryRepository) Delete(ctx context.Context, id int64) error {
	return r.do(ctx, "delete", func() error { return r.inner.Delete(ctx, id) })
}

func (r *retryReplacer) Replace(ctx context.Context, inds []model.Indication) error {
	return r.do(ctx, "replace", func() error { return r.replacer.Replace(ctx, inds) })
}

func (r *RetryRepository) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrWriteApplied) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.delay)),
		backoff.WithMaxTries(uint(r.attempts)),
		backoff.WithNotify(func(err error, _ time.Duration) {
			r.log.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt,
				"max":     r.attempts,
			}).WithError(err).Warn("store write failed")
		}),
	)
	return err
}
