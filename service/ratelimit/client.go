package ratelimit

import (
	"context"
	"sync"
	"time"
)

// minPoll bounds the busy-wait when a policy reports "retry immediately"
// (Concurrency returns no delay; a released slot is noticed on the next
// poll).
const minPoll = 5 * time.Millisecond

// Client serializes admission through a Limiter. Only one caller at a
// time may evaluate and mutate limiter state; once admitted, the caller
// holds its slot concurrently with others and returns it via the release
// callback. The polling loop itself is exclusive, holding is not.
type Client struct {
	mu      sync.Mutex
	limiter Limiter
}

// NewClient wraps the given limiter. The limiter must not be shared with
// other Clients: the Client's gate is its only synchronization.
func NewClient(limiter Limiter) *Client {
	return &Client{limiter: limiter}
}

// Acquire blocks until weight units are admitted or ctx is done. On
// success it returns a release callback that must be called exactly once
// when the admitted work completes; callers that never release
// permanently shrink capacity under concurrency-style policies.
//
// There is no default deadline: unbounded waiting is the default policy,
// and callers bound it through ctx when they need to.
func (c *Client) Acquire(ctx context.Context, weight int) (release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now()
		if c.limiter.Check(now, weight) {
			c.limiter.Add(now, weight)
			var once sync.Once
			return func() {
				once.Do(func() {
					c.mu.Lock()
					c.limiter.Sub(time.Now(), weight)
					c.mu.Unlock()
				})
			}, nil
		}

		wait := c.limiter.NextTry(now, weight)
		if wait < minPoll {
			wait = minPoll
		}

		// Sleep outside the gate so releases can land.
		timer := time.NewTimer(wait)
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			timer.Stop()
			c.mu.Lock()
			return nil, ctx.Err()
		case <-timer.C:
		}
		c.mu.Lock()
	}
}
