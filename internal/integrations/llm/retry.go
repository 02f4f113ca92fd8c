package llm

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"ticketlens/internal/domain"
)

// RetryPolicy governs transient remote failures only.
type RetryPolicy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// completeWithRetry calls Complete until it succeeds, fails with a
// non-retriable error, runs out of attempts or ctx ends. Failures come back
// as *domain.RemoteServiceError.
func (r *Requester) completeWithRetry(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	var total Usage
	var lastErr error
	attempts := 0
	backoff := r.Retry.InitialBackoff

	for attempt := 0; attempt <= r.Retry.MaxRetries; attempt++ {
		attempts++
		text, usage, err := r.Complete(ctx, systemPrompt, userPrompt)
		total.Add(usage)
		if err == nil {
			if attempt > 0 {
				log.Printf("llm %s succeeded after %d retries", r.Provider, attempt)
			}
			return text, total, nil
		}
		if errors.Is(err, domain.ErrResponseShape) {
			return "", total, err
		}
		lastErr = err

		if ctx.Err() != nil || !isRetriableError(err) || attempt == r.Retry.MaxRetries {
			break
		}
		log.Printf("llm %s failed (attempt %d/%d), retrying in %v: %v",
			r.Provider, attempt+1, r.Retry.MaxRetries+1, backoff, err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * r.Retry.BackoffMultiplier)
			if r.Retry.MaxBackoff > 0 && backoff > r.Retry.MaxBackoff {
				backoff = r.Retry.MaxBackoff
			}
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}
	return "", total, remoteError(ctx, r.Provider, attempts, lastErr)
}

func remoteError(ctx context.Context, provider string, attempts int, err error) error {
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err)
	var rse *domain.RemoteServiceError
	if errors.As(err, &rse) {
		out := *rse
		out.Attempts = attempts
		out.Timeout = out.Timeout || timedOut
		if out.Provider == "" {
			out.Provider = provider
		}
		return &out
	}
	return &domain.RemoteServiceError{Provider: provider, Timeout: timedOut, Attempts: attempts, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRetriableError reports whether err is transient: timeouts, network
// failures, rate limits and 5xx responses.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if isTimeout(err) {
		return true
	}

	var rse *domain.RemoteServiceError
	if errors.As(err, &rse) {
		switch {
		case rse.Timeout:
			return true
		case rse.StatusCode == 0:
			// transport failure before any response
			return true
		case rse.StatusCode == http.StatusTooManyRequests, rse.StatusCode == http.StatusRequestTimeout:
			return true
		case rse.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "unexpected eof") ||
		strings.Contains(errStr, "temporary failure")
}
