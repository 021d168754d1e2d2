// Package retry runs store operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v5"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts     uint          `mapstructure:"STORE_RETRY_MAX_ATTEMPTS" validate:"min=1"`
	InitialInterval time.Duration `mapstructure:"STORE_RETRY_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `mapstructure:"STORE_RETRY_MAX_INTERVAL"`
}

// DefaultConfig is three attempts starting at 200ms.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}
}

// Retrier retries failing operations.
type Retrier struct {
	cfg    Config
	logger ectologger.Logger
}

// New creates a retrier. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config, logger ectologger.Logger) *Retrier {
	def := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	return &Retrier{cfg: cfg, logger: logger}
}

// Do runs op until it succeeds, returns a Permanent error, the context ends or
// the attempts run out. The final error wraps models.ErrPersistenceFailure.
func (r *Retrier) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.PersistenceRetries.WithLabelValues(operation).Inc()
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"operation": operation,
				"retry_in":  next.String(),
			}).Warn("Store operation failed, retrying")
		}),
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrPersistenceFailure) {
		return err
	}
	return errors.Join(models.ErrPersistenceFailure, err)
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
