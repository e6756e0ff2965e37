package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// windowCounter is a fixed-window counter keyed by caller-supplied strings.
// Expired windows are swept lazily whenever a new window opens.
type windowCounter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*countWindow
}

type countWindow struct {
	hits      int
	expiresAt time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowCounter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*countWindow),
	}
}

func (c *windowCounter) Allow(key string) bool {
	if c == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.windows[key]
	if current == nil || !now.Before(current.expiresAt) {
		c.sweep(now)
		c.windows[key] = &countWindow{hits: 1, expiresAt: now.Add(c.window)}
		return true
	}
	if current.hits >= c.limit {
		return false
	}
	current.hits++
	return true
}

func (c *windowCounter) sweep(now time.Time) {
	for key, w := range c.windows {
		if !now.Before(w.expiresAt) {
			delete(c.windows, key)
		}
	}
}
