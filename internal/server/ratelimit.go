package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client address
type clientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
}

// allow consumes one token from the client's bucket
func (c *clientLimiter) allow(client string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// update applies new limits to existing and future buckets
func (c *clientLimiter) update(rps float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.limit = rate.Limit(rps)
	c.burst = burst
	for _, b := range c.clients {
		b.limiter.SetLimit(c.limit)
		b.limiter.SetBurst(c.burst)
	}
}

// prune drops buckets idle for longer than maxIdle and returns how many were removed
func (c *clientLimiter) prune(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for client, b := range c.clients {
		if b.lastSeen.Before(cutoff) {
			delete(c.clients, client)
			removed++
		}
	}
	return removed
}
