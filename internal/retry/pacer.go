package retry

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostPacer spaces attempts against the same host.
type HostPacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
}

// NewHostPacer allows qps attempts per second per host with a burst of one.
// A non-positive qps disables pacing.
func NewHostPacer(qps float64) *HostPacer {
	limit := rate.Limit(qps)
	if qps <= 0 {
		limit = rate.Inf
	}
	return &HostPacer{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
	}
}

// Wait blocks until an attempt against rawURL's host may start.
func (p *HostPacer) Wait(ctx context.Context, rawURL string) error {
	if p == nil || p.limit == rate.Inf {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	p.mu.Lock()
	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(p.limit, 1)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("host pacing wait: %w", ctxErr)
		}
		// rate refuses up front when the next token lands past the deadline.
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("host pacing wait: %w: %w", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("host pacing wait: %w", err)
	}
	return nil
}
