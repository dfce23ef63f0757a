package worker

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/page-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// RetryPolicy retries temporary fetch failures with jittered exponential
// backoff.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryPolicy builds a policy. Zero durations select 250ms and 5s.
func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &RetryPolicy{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
}

// ShouldRetry decides whether another attempt may follow retries failed
// attempts so far.
func (p *RetryPolicy) ShouldRetry(err error, retries int) bool {
	if p == nil || err == nil || retries >= p.maxRetries {
		return false
	}
	if errors.Is(err, scraper.ErrPolicyDenied) || errors.Is(err, context.Canceled) || errors.Is(err, headless.ErrDisabled) {
		return false
	}
	var fetchErr *scraper.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Temporary()
	}
	return false
}

// Backoff returns the wait before retry number retries+1: half the
// exponential delay plus up to the same amount of jitter.
func (p *RetryPolicy) Backoff(retries int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(retries))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
