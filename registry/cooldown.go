package registry

import (
	"sync"
	"time"
)

// Cooldown is a TTL set of phones that recently finished an exchange and are
// not yet eligible for pairing again. A background goroutine sweeps expired
// entries; Active never reports an expired entry even before the sweep runs.
type Cooldown struct {
	mu     sync.RWMutex
	until  map[string]time.Time
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

func NewCooldown(ttl time.Duration) *Cooldown {
	c := &Cooldown{
		until: make(map[string]time.Time),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Mark starts (or restarts) the cooldown window for each phone.
func (c *Cooldown) Mark(phones ...string) {
	expiry := time.Now().Add(c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range phones {
		c.until[p] = expiry
	}
}

func (c *Cooldown) Active(phone string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeLocked(phone, time.Now())
}

func (c *Cooldown) activeLocked(phone string, now time.Time) bool {
	expiry, ok := c.until[phone]
	return ok && now.Before(expiry)
}

func (c *Cooldown) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.until)
}

func (c *Cooldown) sweep() {
	interval := c.ttl
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cooldown) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for phone := range c.until {
		if !c.activeLocked(phone, now) {
			delete(c.until, phone)
		}
	}
}

// Close stops the sweep goroutine. It is safe to call multiple times.
func (c *Cooldown) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
