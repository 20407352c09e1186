// Package retry re-runs a single session-bound operation a bounded number of
// times, replacing the page session between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/browser"
)

// DefaultMaxAttempts is the attempt bound used when none is configured.
const DefaultMaxAttempts = 5

// ErrAttemptsExhausted wraps the final error once the bound is reached.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// Config controls the attempt bound.
type Config struct {
	MaxAttempts int
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. A check that ran and decided the page
// violates its rule is permanent; flaky transport failures are not.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do opens a session from sessions and calls fn with it. On a retryable
// error the session is closed and a fresh one is opened for the next attempt.
// Attempts are immediate; there is no backoff delay.
func Do(
	ctx context.Context,
	cfg Config,
	sessions browser.Factory,
	fn func(ctx context.Context, s browser.Session) error,
	logger *zap.Logger,
) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry canceled: %w", err)
		}
		err := attemptOnce(ctx, sessions, fn)
		if err == nil {
			if attempt > 1 {
				logger.Info("Succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		lastErr = err
		logger.Warn("Attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, maxAttempts, lastErr)
}

// attemptOnce owns one session for the duration of one attempt.
func attemptOnce(
	ctx context.Context,
	sessions browser.Factory,
	fn func(ctx context.Context, s browser.Session) error,
) (err error) {
	session, err := sessions.Open(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close session: %w", cerr)
		}
	}()
	return fn(ctx, session)
}
