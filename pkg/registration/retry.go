package registration

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for install retries.
var (
	installRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swcache_install_retries_total",
		Help: "Total number of install retries",
	})

	installRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swcache_install_retry_backoff_seconds",
		Help:    "Backoff duration before an install retry",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	installRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swcache_install_retry_exhausted_total",
		Help: "Total number of installs that exhausted their attempts",
	})
)

var (
	// ErrRetryExhausted is returned when all install attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// RetryConfig holds the configuration for install retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first one).
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after every attempt.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff < 0 {
		c.InitialBackoff = 0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	return c
}

// retryWithBackoff runs fn until it succeeds, the attempts are used up or ctx
// is cancelled. Waits grow exponentially with ±20% jitter.
// fn receives the 1-based attempt number.
func retryWithBackoff(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn func(attempt int) error) error {
	config = config.withDefaults()

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Install succeeded after retry")
			}
			return nil
		}
		lastErr = err

		// a cancelled install is not retried
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		if attempt >= config.MaxAttempts {
			break
		}

		installRetriesTotal.Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		installRetryBackoffSeconds.Observe(jitter.Seconds())

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Install failed, retrying after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	installRetryExhaustedTotal.Inc()
	logger.Error().
		Err(lastErr).
		Int("max_attempts", config.MaxAttempts).
		Msg("Install attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}
