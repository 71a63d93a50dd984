package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

type RetryOptions struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Logger   *slog.Logger
	// Op names the operation in log lines.
	Op string
}

const defaultMaxDelay = 60 * time.Second

// Retry runs fn with exponential backoff until it succeeds, attempts run out
// or ctx is cancelled.
func Retry(ctx context.Context, opts RetryOptions, fn func() error) error {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		err := fn()
		if err == nil {
			if i > 1 {
				logger.Info("connected", slog.String("op", opts.Op), slog.Int("attempt", i))
			}
			return nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := delay * time.Duration(math.Pow(2, float64(i-1)))
		sleep = JitteredDelay(sleep, maxDelay, 0)

		logger.Warn("dial failed",
			slog.String("op", opts.Op),
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled: %w", opts.Op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", opts.Op, attempts, lastErr)
}

// JitteredDelay spreads base by ±jitterPct percent (25 by default) and caps
// the result.
func JitteredDelay(base, limit time.Duration, jitterPct int) time.Duration {
	if jitterPct <= 0 {
		jitterPct = 25
	}
	delta := (rand.Float64()*2 - 1) * float64(jitterPct) / 100.0
	wait := time.Duration(float64(base) * (1 + delta))
	if wait < 0 {
		wait = base
	}
	if limit > 0 && wait > limit {
		wait = limit
	}
	return wait
}

func FirstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
