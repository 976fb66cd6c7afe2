package providers

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// BaseProvider centralizes the retry/backoff behavior shared by every wire
// adapter in this package (Anthropic, OpenAI, Gemini, Bedrock), so P1-P4 all
// back off and log retries the same way instead of each keeping its own copy
// of the backoff math. Providers embed a BaseProvider rather than re-deriving
// maxRetries/retryDelay bookkeeping themselves.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        slog.Default().With("provider", name),
	}
}

// Name returns the provider identifier this BaseProvider was constructed
// with.
func (b *BaseProvider) Name() string { return b.name }

// MaxRetries returns the configured retry ceiling.
func (b *BaseProvider) MaxRetries() int { return b.maxRetries }

// ExponentialBackoff is the default backoff schedule used by RetryWithBackoff
// callers that don't need a custom curve: retryDelay * 2^(attempt-1).
func (b *BaseProvider) ExponentialBackoff(attempt int) time.Duration {
	return b.retryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
}

// Retry runs op with linear backoff (retryDelay * attempt) between attempts,
// stopping once isRetryable reports false for the latest error.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	return b.retryLoop(ctx, isRetryable, op, func(attempt int) time.Duration {
		return b.retryDelay * time.Duration(attempt)
	})
}

// RetryWithBackoff runs op, retrying errors isRetryable accepts and waiting
// backoff(attempt) between attempts. Every retry is logged at debug level
// with the provider name and attempt count, so a flapping provider is
// visible in the run-loop's logs without needing chunk.Error introspection.
func (b *BaseProvider) RetryWithBackoff(ctx context.Context, isRetryable func(error) bool, op func() error, backoff func(attempt int) time.Duration) error {
	return b.retryLoop(ctx, isRetryable, op, backoff)
}

func (b *BaseProvider) retryLoop(ctx context.Context, isRetryable func(error) bool, op func() error, backoff func(attempt int) time.Duration) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			delay := backoff(attempt)
			if b.log != nil {
				b.log.Debug("retrying provider request", "attempt", attempt, "max_retries", b.maxRetries, "delay", delay, "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}
