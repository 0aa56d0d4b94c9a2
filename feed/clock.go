package feed

import (
	"sync"
	"time"
)

// ReplayClock reports the time of the latest replayed bar. It only moves
// forward.
type ReplayClock struct {
	mu sync.RWMutex
	t  time.Time
}

func NewReplayClock(start time.Time) *ReplayClock {
	return &ReplayClock{t: start}
}

func (c *ReplayClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *ReplayClock) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.t) {
		c.t = t
	}
}
