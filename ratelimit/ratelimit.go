// Package ratelimit guards exchange API calls with a shared token bucket.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrExhausted is returned when a token could not be obtained within the
// acquire timeout.
var ErrExhausted = errors.New("rate limit exhausted")

type Config struct {
	MaxRequests    int           // 900 per Window
	Window         time.Duration // 1m
	SafetyMargin   float64       // 0.9
	Burst          int           // 0 means the whole budget
	AcquireTimeout time.Duration // 10s
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:    900,
		Window:         time.Minute,
		SafetyMargin:   0.9,
		AcquireTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxRequests < 1 || c.Window <= 0:
		return fmt.Errorf("rate_limit needs max_requests >= 1 and a positive window")
	case c.SafetyMargin <= 0 || c.SafetyMargin > 1:
		return fmt.Errorf("rate_limit.safety_margin must be in (0,1]")
	case c.Burst < 0 || c.AcquireTimeout <= 0:
		return fmt.Errorf("rate_limit needs burst >= 0 and a positive acquire_timeout")
	}
	return nil
}

// Budget is the usable number of requests per window.
func (c Config) Budget() int {
	b := int(float64(c.MaxRequests) * c.SafetyMargin)
	if b < 1 {
		b = 1
	}
	return b
}

type Limiter struct {
	cfg    Config
	bucket *rate.Limiter
}

func New(cfg Config) *Limiter {
	budget := cfg.Budget()
	burst := cfg.Burst
	if burst == 0 || burst > budget {
		burst = budget
	}
	every := rate.Limit(float64(budget) / cfg.Window.Seconds())
	return &Limiter{cfg: cfg, bucket: rate.NewLimiter(every, burst)}
}

func (l *Limiter) Acquire(ctx context.Context) error {
	return l.AcquireN(ctx, 1)
}

// AcquireN blocks until n tokens are available. It fails with ErrExhausted
// when that would take longer than the acquire timeout, and with the
// context's error when ctx ends first.
func (l *Limiter) AcquireN(ctx context.Context, n int) error {
	wctx, cancel := context.WithTimeout(ctx, l.cfg.AcquireTimeout)
	defer cancel()

	err := l.bucket.WaitN(wctx, n)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %d token(s) within %s: %v", ErrExhausted, n, l.cfg.AcquireTimeout, err)
}

type Status struct {
	Available int
	Budget    int
	Window    time.Duration
	UsagePct  float64
}

func (l *Limiter) Status() Status {
	burst := l.bucket.Burst()
	avail := int(l.bucket.Tokens())
	if avail < 0 {
		avail = 0
	}
	return Status{
		Available: avail,
		Budget:    l.cfg.Budget(),
		Window:    l.cfg.Window,
		UsagePct:  1 - float64(avail)/float64(burst),
	}
}
