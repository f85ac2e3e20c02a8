package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// ==================== Cooldown ====================

// Cooldown is a keyed skip-not-wait limiter: a key may fire once per interval,
// and callers that arrive early are told how long to wait instead of blocking.
type Cooldown struct {
	locks sync.Map // key -> *entry
	now   func() time.Time
}

type entry struct {
	mu       sync.Mutex
	lastTime time.Time
}

// CheckResult outcome of a cooldown check
type CheckResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// NewCooldown creates a limiter using the wall clock.
func NewCooldown() *Cooldown {
	return &Cooldown{now: time.Now}
}

// WithClock swaps the time source; used by tests.
func (c *Cooldown) WithClock(now func() time.Time) *Cooldown {
	c.now = now
	return c
}

func (c *Cooldown) entry(key string) *entry {
	actual, _ := c.locks.LoadOrStore(key, &entry{})
	return actual.(*entry)
}

// Check stamps the key and allows the call when the interval has elapsed.
// The stamp happens before the caller does any work, so a failing call still
// spends its window.
func (c *Cooldown) Check(key string, interval time.Duration) CheckResult {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := c.now()
	if !e.lastTime.IsZero() {
		if elapsed := now.Sub(e.lastTime); elapsed < interval {
			return CheckResult{Allowed: false, RetryAfter: interval - elapsed}
		}
	}

	e.lastTime = now
	return CheckResult{Allowed: true}
}

// CheckOnly reports the state without stamping.
func (c *Cooldown) CheckOnly(key string, interval time.Duration) CheckResult {
	actual, ok := c.locks.Load(key)
	if !ok {
		return CheckResult{Allowed: true}
	}
	e := actual.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if elapsed := c.now().Sub(e.lastTime); elapsed < interval {
		return CheckResult{Allowed: false, RetryAfter: interval - elapsed}
	}
	return CheckResult{Allowed: true}
}

// MarkExecuted stamps the key unconditionally.
func (c *Cooldown) MarkExecuted(key string) {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTime = c.now()
}

// LastExecuted zero time when the key never fired.
func (c *Cooldown) LastExecuted(key string) time.Time {
	actual, ok := c.locks.Load(key)
	if !ok {
		return time.Time{}
	}
	e := actual.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTime
}

// Reset forgets the key.
func (c *Cooldown) Reset(key string) {
	c.locks.Delete(key)
}

// FormatRetry renders a wait time as "Ns" or "Nm Ns".
func FormatRetry(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes, rest := seconds/60, seconds%60
	if rest == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm %ds", minutes, rest)
}
