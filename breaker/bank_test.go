package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/logging"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu     sync.Mutex
	states map[key]State
	err    error
}

func newMemStore() *memStore { return &memStore{states: make(map[key]State)} }

func (m *memStore) SaveBreaker(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.states[key{s.Kind, s.Scope}] = s
	return nil
}

func (m *memStore) LoadBreakers(context.Context) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newBank(cfg Config, store Store, c *clock) *Bank {
	return NewBank(cfg, store, logging.Discard(), WithClock(c.now))
}

// window returns n flat hourly bars at 100 ending one hour before t0,
// followed by last (stamped t0).
func window(t *testing.T, symbol string, n int, last market.Candle) *market.PriceWindow {
	t.Helper()
	w := market.NewPriceWindow(symbol, "1h", 100)
	for i := n; i > 0; i-- {
		require.NoError(t, w.Append(market.Candle{
			Time: t0.Add(-time.Duration(i) * time.Hour), Open: 100, High: 100, Low: 100, Close: 100,
		}))
	}
	if last.Time.IsZero() {
		last.Time = t0
	}
	require.NoError(t, w.Append(last))
	return w
}

func flat(equity float64) portfolio.Snapshot {
	return portfolio.Snapshot{State: portfolio.State{EquityPeak: equity}, Equity: equity}
}

func TestAssetDropLockoutAndExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &clock{t: t0}
	b := newBank(DefaultConfig(), newMemStore(), c)
	w := window(t, "BTCUSDT", 30, market.Candle{Open: 100, High: 100, Low: 83, Close: 84})

	require.NoError(t, b.Observe(ctx, "BTCUSDT", w, flat(10000)))

	c.t = t0.Add(time.Hour)
	v, err := b.Check(ctx, "BTCUSDT", w, flat(10000))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	require.Len(t, v.Vetoes, 1)
	assert.Equal(t, Asset, v.Vetoes[0].Kind)
	assert.Equal(t, "BTCUSDT", v.Vetoes[0].Scope)
	assert.Equal(t, 3*time.Hour, v.Vetoes[0].Remaining)
	assert.Contains(t, v.Reason(), "16.0%")

	// Other symbols are unaffected by an asset trip.
	other, err := b.Check(ctx, "ETHUSDT", nil, flat(10000))
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	// Same bars after the lockout: the anchored drop does not re-trip.
	c.t = t0.Add(4*time.Hour + time.Minute)
	v, err = b.Check(ctx, "BTCUSDT", w, flat(10000))
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Empty(t, b.Active())
}

func TestExpiryIsInclusiveAtLockoutEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &clock{t: t0}
	b := newBank(DefaultConfig(), newMemStore(), c)
	w := window(t, "BTCUSDT", 30, market.Candle{Open: 100, High: 100, Low: 83, Close: 84})
	require.NoError(t, b.Observe(ctx, "BTCUSDT", w, flat(10000)))

	c.t = t0.Add(4*time.Hour - time.Nanosecond)
	v, _ := b.Check(ctx, "BTCUSDT", w, flat(10000))
	assert.False(t, v.Allowed)

	c.t = t0.Add(4 * time.Hour)
	v, _ = b.Check(ctx, "BTCUSDT", w, flat(10000))
	assert.True(t, v.Allowed)
}

func TestAssetDropBelowThreshold(t *testing.T) {
	t.Parallel()

	b := newBank(DefaultConfig(), newMemStore(), &clock{t: t0})
	w := window(t, "BTCUSDT", 30, market.Candle{Open: 100, High: 100, Low: 85, Close: 86})
	v, err := b.Check(context.Background(), "BTCUSDT", w, flat(10000))
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestFlashCrash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newBank(DefaultConfig(), newMemStore(), &clock{t: t0})

	w := window(t, "SOLUSDT", 5, market.Candle{Open: 100, High: 100, Low: 79, Close: 95})
	v, err := b.Check(ctx, "SOLUSDT", w, flat(10000))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	require.Len(t, v.Vetoes, 1)
	assert.Equal(t, FlashCrash, v.Vetoes[0].Kind)
	assert.Equal(t, 4*time.Hour, v.Vetoes[0].Remaining)
}

func TestFlashCrashSingleBarUsesOpen(t *testing.T) {
	t.Parallel()

	b := newBank(DefaultConfig(), newMemStore(), &clock{t: t0})
	w := market.NewPriceWindow("SOLUSDT", "1h", 10)
	require.NoError(t, w.Append(market.Candle{Time: t0, Open: 100, High: 100, Low: 75, Close: 99}))

	v, err := b.Check(context.Background(), "SOLUSDT", w, flat(10000))
	require.NoError(t, err)
	require.False(t, v.Allowed)
	assert.Equal(t, FlashCrash, v.Vetoes[0].Kind)
}

func TestPortfolioKillSwitch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &clock{t: t0}
	b := newBank(DefaultConfig(), newMemStore(), c)

	down := portfolio.Snapshot{State: portfolio.State{EquityPeak: 10000}, Equity: 8900}
	v, err := b.Check(ctx, "ETHUSDT", nil, down)
	require.NoError(t, err)
	require.False(t, v.Allowed)
	assert.Equal(t, Portfolio, v.Vetoes[0].Kind)
	assert.Equal(t, ScopeAll, v.Vetoes[0].Scope)
	assert.Equal(t, 24*time.Hour, v.Vetoes[0].Remaining)

	v, _ = b.Check(ctx, "BTCUSDT", nil, down)
	assert.False(t, v.Allowed, "kill switch covers every symbol")

	// Still in drawdown after the lockout: trips again.
	c.t = t0.Add(25 * time.Hour)
	v, _ = b.Check(ctx, "BTCUSDT", nil, down)
	assert.False(t, v.Allowed)

	// Recovered below the threshold after the second lockout.
	c.t = t0.Add(50 * time.Hour)
	v, _ = b.Check(ctx, "BTCUSDT", nil, portfolio.Snapshot{State: portfolio.State{EquityPeak: 10000}, Equity: 9500})
	assert.True(t, v.Allowed)
}

func TestConsecutiveLossesSymbolScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.ConsecutiveScope = ScopeModeSymbol
	c := &clock{t: t0}
	b := newBank(cfg, newMemStore(), c)

	require.NoError(t, b.RecordOutcome(ctx, "Y", -5))
	require.NoError(t, b.RecordOutcome(ctx, "Y", -5))
	require.NoError(t, b.RecordOutcome(ctx, "X", -5))

	v, _ := b.Check(ctx, "Y", nil, flat(10000))
	assert.True(t, v.Allowed, "two losses on Y are below the limit")

	require.NoError(t, b.RecordOutcome(ctx, "Y", -5))

	v, _ = b.Check(ctx, "Y", nil, flat(10000))
	require.False(t, v.Allowed)
	assert.Equal(t, ConsecutiveLoss, v.Vetoes[0].Kind)
	assert.Equal(t, "Y", v.Vetoes[0].Scope)

	v, _ = b.Check(ctx, "X", nil, flat(10000))
	assert.True(t, v.Allowed)

	// The streak restarts after a trip.
	for _, s := range b.States() {
		if s.Kind == ConsecutiveLoss && s.Scope == "Y" {
			assert.Equal(t, 0, s.Count)
		}
	}
}

func TestSymbolScopeNeverMatchesEverySymbol(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.ConsecutiveScope = ScopeModeSymbol
	b := newBank(cfg, newMemStore(), &clock{t: t0})

	// A symbol whose name reads like a scope keyword only blocks itself.
	for _, sym := range []string{"portfolio", "portfolio", "portfolio"} {
		require.NoError(t, b.RecordOutcome(ctx, sym, -5))
	}

	v, _ := b.Check(ctx, "portfolio", nil, flat(10000))
	assert.False(t, v.Allowed)
	v, _ = b.Check(ctx, "BTCUSDT", nil, flat(10000))
	assert.True(t, v.Allowed)

	assert.True(t, State{Scope: ScopeAll}.Covers("BTCUSDT"))
	assert.False(t, State{Scope: "portfolio"}.Covers("BTCUSDT"))
}

func TestConsecutiveLossesWinResetsStreak(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newBank(DefaultConfig(), newMemStore(), &clock{t: t0})
	for _, pnl := range []float64{-1, -1, 2, -1, -1} {
		require.NoError(t, b.RecordOutcome(ctx, "BTCUSDT", pnl))
	}
	v, _ := b.Check(ctx, "ETHUSDT", nil, flat(10000))
	assert.True(t, v.Allowed)

	require.NoError(t, b.RecordOutcome(ctx, "BTCUSDT", -1))
	v, _ = b.Check(ctx, "ETHUSDT", nil, flat(10000))
	assert.False(t, v.Allowed, "portfolio scope covers every symbol")
}

func TestReloadRestoresActiveBreakers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	c := &clock{t: t0}
	w := window(t, "BTCUSDT", 30, market.Candle{Open: 100, High: 100, Low: 83, Close: 84})

	first := newBank(DefaultConfig(), store, c)
	require.NoError(t, first.Observe(ctx, "BTCUSDT", w, flat(10000)))
	require.NoError(t, first.RecordOutcome(ctx, "ETHUSDT", -1))

	c.t = t0.Add(2 * time.Hour)
	second := newBank(DefaultConfig(), store, c)
	require.NoError(t, second.Load(ctx))

	v, err := second.Check(ctx, "BTCUSDT", nil, flat(10000))
	require.NoError(t, err)
	require.False(t, v.Allowed)
	assert.Equal(t, 2*time.Hour, v.Vetoes[0].Remaining)

	// The persisted anchor survives the restart.
	c.t = t0.Add(5 * time.Hour)
	v, _ = second.Check(ctx, "BTCUSDT", w, flat(10000))
	assert.True(t, v.Allowed)

	// So does the loss streak.
	require.NoError(t, second.RecordOutcome(ctx, "ETHUSDT", -1))
	require.NoError(t, second.RecordOutcome(ctx, "ETHUSDT", -1))
	v, _ = second.Check(ctx, "ETHUSDT", nil, flat(10000))
	assert.False(t, v.Allowed)
}

func TestManualReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	b := newBank(DefaultConfig(), store, &clock{t: t0})
	w := window(t, "BTCUSDT", 30, market.Candle{Open: 100, High: 100, Low: 83, Close: 84})

	v, _ := b.Check(ctx, "BTCUSDT", w, flat(10000))
	require.False(t, v.Allowed)

	require.NoError(t, b.Reset(ctx, Asset, "BTCUSDT"))
	v, _ = b.Check(ctx, "BTCUSDT", w, flat(10000))
	assert.True(t, v.Allowed)
	assert.False(t, store.states[key{Asset, "BTCUSDT"}].Tripped)

	err := b.Reset(ctx, FlashCrash, "DOGEUSDT")
	assert.ErrorIs(t, err, ErrUnknownBreaker)
}

func TestPersistFailureFailsClosed(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.err = errors.New("disk full")
	b := newBank(DefaultConfig(), store, &clock{t: t0})
	w := window(t, "BTCUSDT", 30, market.Candle{Open: 100, High: 100, Low: 83, Close: 84})

	v, err := b.Check(context.Background(), "BTCUSDT", w, flat(10000))
	assert.Error(t, err)
	assert.False(t, v.Allowed)
}

func TestParseKindAndValidate(t *testing.T) {
	t.Parallel()

	k, err := ParseKind("flash_crash")
	require.NoError(t, err)
	assert.Equal(t, FlashCrash, k)
	_, err = ParseKind("meteor")
	assert.ErrorIs(t, err, ErrUnknownBreaker)

	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.ConsecutiveScope = "desk"
	assert.Error(t, cfg.Validate())
}
