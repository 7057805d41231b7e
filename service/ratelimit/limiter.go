package ratelimit

import (
	"time"
)

// Limiter is an admission-control policy over process-local counters.
//
// Check reports whether weight units may be admitted at now without
// mutating any state. Add commits an admission and Sub returns it;
// policies that track outstanding work (Concurrency) rely on callers
// pairing every Add with an eventual Sub. NextTry reports how long a
// denied caller should wait before re-checking; a zero duration means
// "re-check immediately after yielding".
type Limiter interface {
	Check(now time.Time, weight int) bool
	Add(now time.Time, weight int)
	Sub(now time.Time, weight int)
	NextTry(now time.Time, weight int) time.Duration
}

// Sparse admits at most limit units per interval using a single rolling
// counter that resets when the interval elapses. It is cheap and slightly
// lenient: a burst straddling the reset can briefly exceed the nominal
// rate, which is acceptable for self-throttling against RPC quotas.
type Sparse struct {
	limit    int
	interval time.Duration

	windowStart time.Time
	used        int
}

// NewSparse constructs a Sparse limiter admitting limit units per interval.
func NewSparse(limit int, interval time.Duration) *Sparse {
	if limit <= 0 {
		panic("ratelimit: limit must be positive")
	}
	if interval <= 0 {
		panic("ratelimit: interval must be positive")
	}
	return &Sparse{limit: limit, interval: interval}
}

func (s *Sparse) roll(now time.Time) {
	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= s.interval {
		s.windowStart = now
		s.used = 0
	}
}

func (s *Sparse) Check(now time.Time, weight int) bool {
	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= s.interval {
		return weight <= s.limit
	}
	return s.used+weight <= s.limit
}

func (s *Sparse) Add(now time.Time, weight int) {
	s.roll(now)
	s.used += weight
}

func (s *Sparse) Sub(now time.Time, weight int) {
	// Window-based policies consume quota permanently; Sub is a no-op.
}

func (s *Sparse) NextTry(now time.Time, weight int) time.Duration {
	if s.windowStart.IsZero() {
		return 0
	}
	remaining := s.interval - now.Sub(s.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Accurate admits at most limit units inside any rolling interval window
// by remembering individual admission timestamps.
type Accurate struct {
	limit    int
	interval time.Duration

	events []accurateEvent
}

type accurateEvent struct {
	at     time.Time
	weight int
}

// NewAccurate constructs an Accurate limiter admitting limit units within
// any rolling interval.
func NewAccurate(limit int, interval time.Duration) *Accurate {
	if limit <= 0 {
		panic("ratelimit: limit must be positive")
	}
	if interval <= 0 {
		panic("ratelimit: interval must be positive")
	}
	return &Accurate{limit: limit, interval: interval}
}

func (a *Accurate) evict(now time.Time) {
	cutoff := now.Add(-a.interval)
	i := 0
	for i < len(a.events) && !a.events[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		a.events = append(a.events[:0], a.events[i:]...)
	}
}

func (a *Accurate) inWindow(now time.Time) int {
	cutoff := now.Add(-a.interval)
	total := 0
	for _, ev := range a.events {
		if ev.at.After(cutoff) {
			total += ev.weight
		}
	}
	return total
}

func (a *Accurate) Check(now time.Time, weight int) bool {
	return a.inWindow(now)+weight <= a.limit
}

func (a *Accurate) Add(now time.Time, weight int) {
	a.evict(now)
	a.events = append(a.events, accurateEvent{at: now, weight: weight})
}

func (a *Accurate) Sub(now time.Time, weight int) {
	// Admissions age out of the window on their own.
}

func (a *Accurate) NextTry(now time.Time, weight int) time.Duration {
	a.evict(now)
	if len(a.events) == 0 {
		return 0
	}
	// Wait until the oldest admission exits the rolling window.
	oldest := a.events[0].at
	d := a.interval - now.Sub(oldest)
	if d < 0 {
		return 0
	}
	return d
}

// Concurrency admits at most max outstanding (added but not yet
// subtracted) units. There is no time component: NextTry is zero and
// callers must simply re-check until a slot is released.
type Concurrency struct {
	max         int
	outstanding int
}

// NewConcurrency constructs a Concurrency limiter with max outstanding units.
func NewConcurrency(max int) *Concurrency {
	if max <= 0 {
		panic("ratelimit: max must be positive")
	}
	return &Concurrency{max: max}
}

func (c *Concurrency) Check(now time.Time, weight int) bool {
	return c.outstanding+weight <= c.max
}

func (c *Concurrency) Add(now time.Time, weight int) {
	c.outstanding += weight
}

func (c *Concurrency) Sub(now time.Time, weight int) {
	c.outstanding -= weight
	if c.outstanding < 0 {
		c.outstanding = 0
	}
}

func (c *Concurrency) NextTry(now time.Time, weight int) time.Duration {
	// A slot frees whenever some in-flight caller releases; poll again.
	return 0
}

// Compose is the conjunction of its sub-policies: admission requires
// every policy to admit, and a denied caller must wait for the strictest
// sub-policy delay.
type Compose struct {
	limiters []Limiter
}

// NewCompose constructs the conjunction of the given policies.
func NewCompose(limiters ...Limiter) *Compose {
	return &Compose{limiters: limiters}
}

func (c *Compose) Check(now time.Time, weight int) bool {
	for _, l := range c.limiters {
		if !l.Check(now, weight) {
			return false
		}
	}
	return true
}

func (c *Compose) Add(now time.Time, weight int) {
	for _, l := range c.limiters {
		l.Add(now, weight)
	}
}

func (c *Compose) Sub(now time.Time, weight int) {
	for _, l := range c.limiters {
		l.Sub(now, weight)
	}
}

func (c *Compose) NextTry(now time.Time, weight int) time.Duration {
	var max time.Duration
	for _, l := range c.limiters {
		if d := l.NextTry(now, weight); d > max {
			max = d
		}
	}
	return max
}
