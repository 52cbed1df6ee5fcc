package fetcher

import (
	"context"
	"net/url"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// HostLimiter rate-limits requests per hostname
type HostLimiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
	r  rate.Limit
	b  int
}

func NewHostLimiter(reqPerSec float64, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		m: make(map[string]*rate.Limiter),
		r: rate.Limit(reqPerSec),
		b: burst,
	}
}

func (hl *HostLimiter) limiterFor(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if lim, ok := hl.m[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(hl.r, hl.b)
	hl.m[host] = lim
	return lim
}

func (hl *HostLimiter) WaitURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return hl.limiterFor("_").Wait(ctx)
	}
	return hl.limiterFor(u.Host).Wait(ctx)
}

// RateLimited wraps a Fetcher so every request waits for its host's limiter
type RateLimited struct {
	next    Fetcher
	limiter *HostLimiter
}

// WithRateLimit returns next unchanged when reqPerSec is not positive
func WithRateLimit(next Fetcher, reqPerSec float64, burst int) Fetcher {
	if reqPerSec <= 0 {
		return next
	}
	return &RateLimited{next: next, limiter: NewHostLimiter(reqPerSec, burst)}
}

func (r *RateLimited) Name() string {
	return r.next.Name() + "+ratelimit"
}

func (r *RateLimited) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := r.limiter.WaitURL(ctx, url); err != nil {
		return nil, eris.Wrap(err, "rate limit wait")
	}
	return r.next.Fetch(ctx, url)
}
