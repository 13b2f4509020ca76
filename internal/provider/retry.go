package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// RetryConfig bounds the retry loop around a generation call.
type RetryConfig struct {
	MaxRetries int           // retries after the first attempt
	Interval   time.Duration // delay before each retry
}

// DefaultRetryConfig retries a failed call exactly once after a short fixed
// delay. Generation failures are converted into recorded error responses by
// the caller, so an aggressive retry budget only adds tail latency.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 1,
		Interval:   500 * time.Millisecond,
	}
}

// retryablePatterns groups error substrings by failure category, matched
// case-insensitively against err.Error().
//
// String matching is used because Genkit and the provider SDKs do not expose
// typed errors for transient failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "deadline exceeded", "temporary"},
}

// retryableError reports whether err looks transient.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// generateWithRetry runs the generation with the bounded retry policy.
// Non-retryable errors fail immediately; retryable ones get one more attempt
// (per RetryConfig) before the call is reported as ErrProvider.
func (c *Client) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	start := time.Now()

	for attempt := 0; attempt <= c.cfg.Retry.MaxRetries; attempt++ {
		resp, err := c.generate(ctx, opts)
		if err == nil {
			c.logger.Debug("generation complete",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err
		if !retryableError(err) {
			return nil, fmt.Errorf("%w: %w", ErrProvider, err)
		}
		if attempt == c.cfg.Retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying generation",
			"attempt", attempt+1,
			"delay", c.cfg.Retry.Interval,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: canceled during retry: %w", ErrProvider, ctx.Err())
		case <-time.After(c.cfg.Retry.Interval):
		}
	}

	return nil, fmt.Errorf("%w: after %d retries (elapsed %v): %w",
		ErrProvider, c.cfg.Retry.MaxRetries, time.Since(start), lastErr)
}
