package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Policy decides whether a failed attempt is retried and how long to wait.
type Policy struct {
	maxRetries         int
	degradedMaxRetries int
	baseDelay          time.Duration
	maxDelay           time.Duration
}

// NewPolicy builds a jittered exponential policy. Negative budgets are
// treated as zero; zero delays fall back to 250ms base and 5s cap.
func NewPolicy(maxRetries, degradedMaxRetries int, baseDelay, maxDelay time.Duration) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if degradedMaxRetries < 0 {
		degradedMaxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Policy{
		maxRetries:         maxRetries,
		degradedMaxRetries: degradedMaxRetries,
		baseDelay:          baseDelay,
		maxDelay:           maxDelay,
	}
}

// Budget returns how many retries are allowed after the first attempt.
func (p *Policy) Budget(degraded bool) int {
	if degraded {
		return p.degradedMaxRetries
	}
	return p.maxRetries
}

// ShouldRetry reports whether err warrants another attempt given the retries
// already spent. Cancellation, pool exhaustion, and configuration errors are
// terminal.
func (p *Policy) ShouldRetry(err error, retriesUsed int, degraded bool) bool {
	if err == nil {
		return false
	}
	if retriesUsed >= p.Budget(degraded) {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, profile.ErrPoolExhausted),
		errors.Is(err, profile.ErrConfig):
		return false
	}
	return true
}

// Backoff returns the wait before retry number retry (zero-based).
func (p *Policy) Backoff(retry int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(retry))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *Policy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
