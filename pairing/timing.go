package pairing

import (
	"math/rand/v2"
	"time"
)

// Timing holds the scheduler constants. They were tuned against one
// automation target and are configuration, not protocol.
type Timing struct {
	TickInterval   time.Duration
	ConfirmTimeout time.Duration
	RetryBackoff   time.Duration
	Cooldown       time.Duration
	MaxAttempts    int
}

func DefaultTiming() Timing {
	return Timing{
		TickInterval:   5 * time.Second,
		ConfirmTimeout: 45 * time.Second,
		RetryBackoff:   2 * time.Second,
		Cooldown:       5 * time.Second,
		MaxAttempts:    2,
	}
}

// withDefaults fills zero fields from DefaultTiming.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.TickInterval <= 0 {
		t.TickInterval = d.TickInterval
	}
	if t.ConfirmTimeout <= 0 {
		t.ConfirmTimeout = d.ConfirmTimeout
	}
	if t.RetryBackoff < 0 {
		t.RetryBackoff = d.RetryBackoff
	}
	if t.Cooldown < 0 {
		t.Cooldown = d.Cooldown
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = d.MaxAttempts
	}
	return t
}

// pickDelay draws a whole number of seconds uniformly from [minSec, maxSec].
func pickDelay(minSec, maxSec int) time.Duration {
	if minSec < 0 {
		minSec = 0
	}
	if maxSec < minSec {
		maxSec = minSec
	}
	n := minSec + rand.IntN(maxSec-minSec+1)
	return time.Duration(n) * time.Second
}
