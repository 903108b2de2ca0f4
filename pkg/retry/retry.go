// Package retry provides a bounded exponential-backoff helper for
// best-effort side writes (fiscal mirror, notification mail).
package retry

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Config controls the retry loop.
type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Initial is the delay before the second try; each further delay doubles.
	Initial time.Duration
	// Max caps the per-try delay. Zero means no cap.
	Max time.Duration
}

// Do runs fn until it succeeds, the attempts are exhausted, or ctx is done.
// The last error is returned wrapped with the attempt count.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	delay := cfg.Initial
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "retry cancelled")
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "retry cancelled during backoff")
		}

		delay *= 2
		if cfg.Max > 0 && delay > cfg.Max {
			delay = cfg.Max
		}
	}

	return errors.Wrapf(lastErr, "after %d attempts", cfg.Attempts)
}
