// Package breaker implements the four-layer circuit breaker bank: per-asset
// drop, portfolio drawdown kill switch, consecutive losses and flash crash.
package breaker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/sirupsen/logrus"
)

// Store persists breaker states across restarts.
type Store interface {
	SaveBreaker(ctx context.Context, s State) error
	LoadBreakers(ctx context.Context) ([]State, error)
}

type key struct {
	kind  Kind
	scope string
}

type Bank struct {
	mu     sync.Mutex
	cfg    Config
	store  Store
	log    logrus.FieldLogger
	now    func() time.Time
	states map[key]*State
}

type Option func(*Bank)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bank) { b.now = now }
}

func NewBank(cfg Config, store Store, log logrus.FieldLogger, opts ...Option) *Bank {
	b := &Bank{
		cfg:    cfg,
		store:  store,
		log:    log.WithField("stage", "breaker"),
		now:    time.Now,
		states: make(map[key]*State),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Load replaces in-memory state with the persisted states.
func (b *Bank) Load(ctx context.Context) error {
	states, err := b.store.LoadBreakers(ctx)
	if err != nil {
		return fmt.Errorf("load breakers: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = make(map[key]*State, len(states))
	now := b.now()
	for _, s := range states {
		b.states[key{s.Kind, s.Scope}] = &s
		if s.Active(now) {
			b.log.WithFields(logrus.Fields{
				"kind": s.Kind, "scope": s.Scope, "until": s.LockoutUntil,
			}).Warn("restored active breaker")
		}
	}
	return nil
}

// Observe expires due lockouts and evaluates the price and drawdown layers
// for symbol. A persistence failure is returned after the in-memory state
// has changed, so a trip is never lost to a write error.
func (b *Bank) Observe(ctx context.Context, symbol string, w *market.PriceWindow, snap portfolio.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observe(ctx, symbol, w, snap)
}

func (b *Bank) observe(ctx context.Context, symbol string, w *market.PriceWindow, snap portfolio.Snapshot) error {
	now := b.now()
	var dirty []*State

	for _, s := range b.states {
		if s.Tripped && !now.Before(s.LockoutUntil) {
			s.Tripped = false
			dirty = append(dirty, s)
			b.log.WithFields(logrus.Fields{"kind": s.Kind, "scope": s.Scope}).Info("breaker lockout expired")
		}
	}

	if w != nil {
		if s := b.checkAsset(now, symbol, w); s != nil {
			dirty = append(dirty, s)
		}
		if s := b.checkFlash(now, symbol, w); s != nil {
			dirty = append(dirty, s)
		}
	}
	if s := b.checkDrawdown(now, w, snap); s != nil {
		dirty = append(dirty, s)
	}

	return b.persist(ctx, dirty)
}

func (b *Bank) checkAsset(now time.Time, symbol string, w *market.PriceWindow) *State {
	s := b.state(Asset, symbol)
	if s.Active(now) {
		return nil
	}

	bars := after(w.Candles(), s.Anchor)
	if len(bars) > b.cfg.AssetLookback {
		bars = bars[len(bars)-b.cfg.AssetLookback:]
	}
	if len(bars) == 0 {
		return nil
	}

	high := 0.0
	for _, c := range bars {
		if c.High > high {
			high = c.High
		}
	}
	last := bars[len(bars)-1]
	if high <= 0 {
		return nil
	}
	drop := (high - last.Close) / high
	if drop <= b.cfg.AssetDropPct {
		return nil
	}
	b.trip(s, now, last.Time, b.cfg.AssetLockout,
		fmt.Sprintf("%s dropped %.1f%% from local high %.4g", symbol, 100*drop, high))
	return s
}

func (b *Bank) checkFlash(now time.Time, symbol string, w *market.PriceWindow) *State {
	s := b.state(FlashCrash, symbol)
	if s.Active(now) {
		return nil
	}

	bars := w.Tail(2)
	if len(bars) == 0 {
		return nil
	}
	last := bars[len(bars)-1]
	if !last.Time.After(s.Anchor) {
		return nil
	}
	ref := last.Open
	if len(bars) == 2 {
		ref = bars[0].Close
	}
	if ref <= 0 {
		return nil
	}
	move := (ref - last.Low) / ref
	if move <= b.cfg.FlashCrashPct {
		return nil
	}
	b.trip(s, now, last.Time, b.cfg.FlashCrashLockout,
		fmt.Sprintf("%s flash crash %.1f%% in one bar", symbol, 100*move))
	return s
}

// checkDrawdown re-trips after expiry for as long as the drawdown persists.
func (b *Bank) checkDrawdown(now time.Time, w *market.PriceWindow, snap portfolio.Snapshot) *State {
	s := b.state(Portfolio, ScopeAll)
	if s.Active(now) {
		return nil
	}
	dd := snap.Drawdown()
	if dd <= b.cfg.PortfolioDrawdownPct {
		return nil
	}
	anchor := now
	if w != nil {
		if last, ok := w.Last(); ok {
			anchor = last.Time
		}
	}
	b.trip(s, now, anchor, b.cfg.PortfolioLockout,
		fmt.Sprintf("portfolio drawdown %.2f%% from peak %.2f", 100*dd, snap.EquityPeak))
	return s
}

// Check observes symbol and then vetoes the order if any active breaker
// covers it.
func (b *Bank) Check(ctx context.Context, symbol string, w *market.PriceWindow, snap portfolio.Snapshot) (Verdict, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.observe(ctx, symbol, w, snap)

	now := b.now()
	v := Verdict{Allowed: true}
	for _, s := range b.sorted() {
		if !s.Active(now) || !s.Covers(symbol) {
			continue
		}
		v.Allowed = false
		v.Vetoes = append(v.Vetoes, Veto{
			Kind:      s.Kind,
			Scope:     s.Scope,
			Remaining: s.Remaining(now),
			Reason:    s.Reason,
		})
	}
	return v, err
}

// RecordOutcome feeds a realized trade into the consecutive-loss layer.
func (b *Bank) RecordOutcome(ctx context.Context, symbol string, pnl float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	scope := ScopeAll
	if b.cfg.ConsecutiveScope == ScopeModeSymbol {
		scope = symbol
	}
	s := b.state(ConsecutiveLoss, scope)
	now := b.now()

	if pnl >= 0 {
		s.Count = 0
		return b.persist(ctx, []*State{s})
	}

	s.Count++
	if s.Count >= b.cfg.ConsecutiveLosses {
		b.trip(s, now, now, b.cfg.ConsecutiveLockout,
			fmt.Sprintf("%d consecutive losing trades", s.Count))
		s.Count = 0
	}
	return b.persist(ctx, []*State{s})
}

// Reset clears a breaker before its lockout expires. It is the only way a
// tripped breaker un-trips early.
func (b *Bank) Reset(ctx context.Context, kind Kind, scope string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[key{kind, scope}]
	if !ok {
		return fmt.Errorf("%w: %s[%s]", ErrUnknownBreaker, kind, scope)
	}
	s.Tripped = false
	s.LockoutUntil = b.now()
	s.Count = 0
	s.Reason = "manual reset"
	b.log.WithFields(logrus.Fields{"kind": kind, "scope": scope}).Warn("breaker reset by operator")
	return b.persist(ctx, []*State{s})
}

// States returns a copy of every known breaker state ordered by kind and
// scope.
func (b *Bank) States() []State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]State, 0, len(b.states))
	for _, s := range b.sorted() {
		out = append(out, *s)
	}
	return out
}

// Active returns only the breakers whose lockout is running.
func (b *Bank) Active() []State {
	now := b.now()
	var out []State
	for _, s := range b.States() {
		if s.Active(now) {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bank) state(kind Kind, scope string) *State {
	k := key{kind, scope}
	s, ok := b.states[k]
	if !ok {
		s = &State{Kind: kind, Scope: scope}
		b.states[k] = s
	}
	return s
}

func (b *Bank) trip(s *State, now, anchor time.Time, lockout time.Duration, reason string) {
	s.Tripped = true
	s.TrippedAt = now
	s.LockoutUntil = now.Add(lockout)
	s.Anchor = anchor
	s.Reason = reason
	b.log.WithFields(logrus.Fields{
		"kind":   s.Kind,
		"scope":  s.Scope,
		"until":  s.LockoutUntil,
		"reason": reason,
	}).Warn("breaker tripped")
}

func (b *Bank) persist(ctx context.Context, states []*State) error {
	ctx = context.WithoutCancel(ctx)
	for _, s := range states {
		if err := b.store.SaveBreaker(ctx, *s); err != nil {
			return fmt.Errorf("save breaker %s[%s]: %w", s.Kind, s.Scope, err)
		}
	}
	return nil
}

func (b *Bank) sorted() []*State {
	out := make([]*State, 0, len(b.states))
	for _, s := range b.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}

func after(bars []market.Candle, anchor time.Time) []market.Candle {
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Time.After(anchor) })
	return bars[i:]
}
