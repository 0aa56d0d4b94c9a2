package breaker

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownBreaker = errors.New("unknown breaker")

type Kind string

const (
	Asset           Kind = "asset"
	Portfolio       Kind = "portfolio"
	ConsecutiveLoss Kind = "consecutive_loss"
	FlashCrash      Kind = "flash_crash"
)

// ScopeAll is the scope of breakers that cover every symbol.
const ScopeAll = "*"

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Asset, Portfolio, ConsecutiveLoss, FlashCrash:
		return k, nil
	}
	return "", fmt.Errorf("%w: kind %q", ErrUnknownBreaker, s)
}

// State is the persisted state of one breaker for one scope.
//
// Anchor is the time of the bar that caused the last trip. Price-driven
// layers only consider bars after it, so the same drop cannot trip the
// breaker again once the lockout has expired. Count carries the current
// consecutive-loss streak.
type State struct {
	Kind         Kind      `json:"kind"`
	Scope        string    `json:"scope"`
	Tripped      bool      `json:"tripped"`
	TrippedAt    time.Time `json:"tripped_at"`
	LockoutUntil time.Time `json:"lockout_until"`
	Anchor       time.Time `json:"anchor"`
	Count        int       `json:"count"`
	Reason       string    `json:"reason"`
}

// Active reports whether the breaker is tripped and its lockout has not
// expired at now.
func (s State) Active(now time.Time) bool {
	return s.Tripped && now.Before(s.LockoutUntil)
}

func (s State) Remaining(now time.Time) time.Duration {
	if !s.Active(now) {
		return 0
	}
	return s.LockoutUntil.Sub(now)
}

// Covers reports whether a trip of this breaker blocks orders on symbol.
func (s State) Covers(symbol string) bool {
	return s.Scope == ScopeAll || s.Scope == symbol
}

// Veto is one active breaker blocking an order.
type Veto struct {
	Kind      Kind
	Scope     string
	Remaining time.Duration
	Reason    string
}

func (v Veto) String() string {
	return fmt.Sprintf("%s[%s] %s (%s remaining)", v.Kind, v.Scope, v.Reason, v.Remaining.Round(time.Second))
}

type Verdict struct {
	Allowed bool
	Vetoes  []Veto
}

// Reason summarizes the first veto, or "" when allowed.
func (v Verdict) Reason() string {
	if len(v.Vetoes) == 0 {
		return ""
	}
	return v.Vetoes[0].String()
}
