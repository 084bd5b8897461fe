package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryPolicy controls how model calls are retried on transient failure.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Delay after the first failure
	MaxDelay    time.Duration // Upper bound on any single delay

	// Retryable decides whether an error is worth another attempt.
	// Nil means RetryableError.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used for Gemini API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// retryablePatterns groups error substrings by failure category.
// Matched case-insensitively against err.Error().
//
// NOTE: String matching is used because Genkit and the Gemini SDK do
// not expose typed errors for transient failures. Re-evaluate if a
// future SDK version adds structured error types.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "resource exhausted", "429"},
	{"500", "502", "503", "504", "unavailable", "internal error"},
	{"connection reset", "timeout", "deadline exceeded", "temporary"},
}

// RetryableError reports whether err looks transient.
func RetryableError(err error) bool {
	if err == nil {
		return false
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

// Do runs op until it succeeds, exhausts MaxAttempts, hits a
// non-retryable error, or ctx is canceled. The delay before attempt
// n+1 is BaseDelay*n, capped at MaxDelay.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = RetryableError
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := p.BaseDelay * time.Duration(attempt)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
