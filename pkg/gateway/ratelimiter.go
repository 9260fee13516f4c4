package gateway

import (
	"sync"
	"time"
)

// OwnerRateLimiter applies a sliding-window request limit plus a concurrency
// cap to one owner's turn submissions.
type OwnerRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	inFlight          int
}

// NewOwnerRateLimiter creates a rate limiter with the given limits.
// Non-positive values fall back to 60 requests per minute and 4 concurrent.
func NewOwnerRateLimiter(requestsPerMinute, maxConcurrent int) *OwnerRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &OwnerRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		requests:          make([]time.Time, 0),
	}
}

// Allow checks whether a submission may proceed. The empty reason means yes.
func (r *OwnerRateLimiter) Allow() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return false, "too many concurrent requests"
	}

	r.prune(time.Now())
	if len(r.requests) >= r.requestsPerMinute {
		return false, "rate limit exceeded"
	}

	return true, ""
}

// Begin records the start of an admitted submission.
func (r *OwnerRateLimiter) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, time.Now())
	r.inFlight++
}

// End records the completion of a submission.
func (r *OwnerRateLimiter) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
}

// Stats returns the windowed request count and current in-flight count.
func (r *OwnerRateLimiter) Stats() (requestCount, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(time.Now())
	return len(r.requests), r.inFlight
}

// prune drops window entries older than one minute. Caller holds mu.
func (r *OwnerRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.requests = kept
}

// limiterPool hands out one rate limiter per owner id.
type limiterPool struct {
	mu                sync.Mutex
	limiters          map[string]*OwnerRateLimiter
	requestsPerMinute int
	maxConcurrent     int
}

func newLimiterPool(requestsPerMinute, maxConcurrent int) *limiterPool {
	return &limiterPool{
		limiters:          make(map[string]*OwnerRateLimiter),
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
	}
}

func (p *limiterPool) get(ownerID string) *OwnerRateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[ownerID]
	if !ok {
		l = NewOwnerRateLimiter(p.requestsPerMinute, p.maxConcurrent)
		p.limiters[ownerID] = l
	}
	return l
}
