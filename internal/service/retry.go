package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// DeliveryError is a batch which could not be delivered in all the allowed
// attempts. It wraps the error of the last attempt.
type DeliveryError struct {
	Batch    int // zero based index of the batch
	Size     int
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering batch %d (%d boxes) failed after %d attempts: %v", e.Batch, e.Size, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// deliver uploads one batch, retrying up to MaxAttempts times. The delay
// before attempt n+1 is Backoff * n. Returns the number of attempts made.
func (p *Pipeline) deliver(ctx context.Context, idx int, batch []model.Box) (int, error) {
	maxAttempts := max(1, p.cfg.MaxAttempts)
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		p.stats.IncAttempts()
		if attempt > 1 {
			p.stats.IncRetries()
		}

		err := p.uploader.Upload(ctx, batch)
		if err == nil {
			if attempt > 1 {
				slog.InfoContext(ctx, "batch delivered after retry", "batch", idx, "attempt", attempt)
			}
			return attempt, nil
		}
		last = err

		if attempt == maxAttempts {
			slog.ErrorContext(ctx, "batch delivery failed", "batch", idx, "attempt", attempt, "error", err)
			break
		}
		delay := p.cfg.BackoffBase() * time.Duration(attempt)
		slog.WarnContext(ctx, "batch delivery failed: retrying",
			"batch", idx,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay.String(),
			"error", err,
		)
		if err := p.sleep(ctx, delay); err != nil {
			return attempt, &DeliveryError{
				Batch:    idx,
				Size:     len(batch),
				Attempts: attempt,
				Err:      errors.Join(err, last),
			}
		}
	}
	return maxAttempts, &DeliveryError{
		Batch:    idx,
		Size:     len(batch),
		Attempts: maxAttempts,
		Err:      last,
	}
}
