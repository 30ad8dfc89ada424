package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it succeeds, up to maxRetries additional attempts,
// doubling baseBackoff between attempts. It does not retry when ctx is
// done, when the circuit is open, or when the error is not Temporary.
func Retry(ctx context.Context, maxRetries int, baseBackoff time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		var open *ErrCircuitOpen
		if errors.As(err, &open) || !Temporary(err) {
			return err
		}

		if attempt < maxRetries {
			wait := baseBackoff * (1 << uint(attempt))
			if logger != nil {
				logger.WarnContext(ctx, "connectivity: retrying call",
					"attempt", attempt+1,
					"max_retries", maxRetries,
					"backoff_ms", wait.Milliseconds(),
					"error", err)
			}
			if Sleep(ctx, wait) != nil {
				return lastErr
			}
		}
	}
	return lastErr
}
