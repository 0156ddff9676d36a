package translate

import (
	"sync"
	"time"
)

// rateLimiter admits requests through a one-minute sliding window capped at
// the burst limit, and tracks an adaptive backoff delay: doubled on every
// failure, halved again once a success follows failures.
type rateLimiter struct {
	mu sync.Mutex

	perMinute int
	burst     int
	times     []time.Time

	backoff     time.Duration
	lastSuccess bool

	now func() time.Time
}

const (
	minBackoff = time.Second
	maxBackoff = time.Minute
	window     = time.Minute
)

func newRateLimiter(perMinute, burst int) *rateLimiter {
	return &rateLimiter{
		perMinute:   perMinute,
		burst:       burst,
		backoff:     minBackoff,
		lastSuccess: true,
		now:         time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	limit := r.perMinute
	if r.burst < limit {
		limit = r.burst
	}
	if len(r.times) >= limit {
		return false
	}
	r.times = append(r.times, now)
	return true
}

// waitTime reports how long until the oldest windowed request expires.
func (r *rateLimiter) waitTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.times) == 0 {
		return 0
	}
	remaining := window - r.now().Sub(r.times[0])
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (r *rateLimiter) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastSuccess {
		r.backoff /= 2
		if r.backoff < minBackoff {
			r.backoff = minBackoff
		}
	}
	r.lastSuccess = true
}

func (r *rateLimiter) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoff *= 2
	if r.backoff > maxBackoff {
		r.backoff = maxBackoff
	}
	r.lastSuccess = false
}

func (r *rateLimiter) backoffDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backoff
}

func (r *rateLimiter) prune(now time.Time) {
	cutoff := 0
	for cutoff < len(r.times) && now.Sub(r.times[cutoff]) > window {
		cutoff++
	}
	if cutoff > 0 {
		r.times = append(r.times[:0], r.times[cutoff:]...)
	}
}
