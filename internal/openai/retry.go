// Package openai adapts the OpenAI SDK to the story pipeline's text and image
// provider interfaces, and ships deterministic mocks for local runs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openaisdk "github.com/openai/openai-go"
)

var defaultBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff runs fn up to maxRetries times, sleeping between attempts.
// It stops early on a Permanent error or when ctx is done.
func RetryWithBackoff(ctx context.Context, fn func(ctx context.Context) error, maxRetries int, backoffs []time.Duration) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err
		if i == maxRetries-1 {
			break
		}
		if i < len(backoffs) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("failed after %d retries: %w", i+1, ctx.Err())
			case <-time.After(backoffs[i]):
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// classify marks client-side API errors (bad request, content policy, auth)
// as permanent. Rate limits and server errors stay retryable.
func classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
			return Permanent(err)
		}
	}
	return err
}
