package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/broker/sim"
	"github.com/rustyeddy/tradeguard/ensemble"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/feed"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/logging"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/ratelimit"
	"github.com/rustyeddy/tradeguard/regime"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/strategy"
	"github.com/rustyeddy/tradeguard/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

type fixed struct {
	id  string
	dir market.Direction
}

func (f fixed) ID() string                  { return f.id }
func (f fixed) Affinity() strategy.Affinity { return strategy.Affinity{Home: regime.Labels} }
func (f fixed) Signal(sym string, _ *market.PriceWindow) strategy.Signal {
	return strategy.Signal{StrategyID: f.id, Symbol: sym, Direction: f.dir, Strength: 0.9}
}

type sink struct {
	telemetry.Nop
	mu        sync.Mutex
	decisions []telemetry.Decision
}

func (s *sink) RecordDecision(_ context.Context, d telemetry.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *sink) last(sym string) telemetry.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.decisions) - 1; i >= 0; i-- {
		if s.decisions[i].Symbol == sym {
			return s.decisions[i]
		}
	}
	return telemetry.Decision{}
}

func flat(start time.Time, n int, px float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{Time: start.Add(time.Duration(i) * time.Hour), Open: px, High: px, Low: px, Close: px, Volume: 1}
	}
	return out
}

type failingOrders struct {
	*journal.SQLite
	fail bool
}

func (f *failingOrders) SaveOrder(ctx context.Context, o execution.Order) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.SQLite.SaveOrder(ctx, o)
}

func (f *failingOrders) SaveFill(ctx context.Context, o execution.Order, st portfolio.State) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.SQLite.SaveFill(ctx, o, st)
}

type harness struct {
	drv    *Driver
	db     *journal.SQLite
	bank   *breaker.Bank
	pf     *portfolio.Portfolio
	sink   *sink
	clock  *feed.ReplayClock
	orders *failingOrders
}

// newHarness replays BTCUSDT flat at 100 and ETHUSDT flat at 50, with an
// extra stop-out bar for ETH and a flat bar after it. BTCUSDT starts with
// a tripped asset breaker.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log := logging.Discard()

	db, err := journal.NewSQLite(filepath.Join(t.TempDir(), "tg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SaveBreaker(ctx, breaker.State{
		Kind: breaker.Asset, Scope: "BTCUSDT", Tripped: true,
		TrippedAt: t0, LockoutUntil: t0.Add(72 * time.Hour), Reason: "preexisting",
	}))

	btc := flat(t0, 32, 100)
	eth := flat(t0, 30, 50)
	eth = append(eth,
		market.Candle{Time: t0.Add(30 * time.Hour), Open: 50, High: 50, Low: 48.5, Close: 49, Volume: 1},
		market.Candle{Time: t0.Add(31 * time.Hour), Open: 49, High: 49, Low: 49, Close: 49, Volume: 1},
	)
	fd := feed.NewCSVFromCandles(map[string][]market.Candle{"BTCUSDT": btc, "ETHUSDT": eth}, 30)

	clock := feed.NewReplayClock(t0)
	quotes := market.NewQuoteStore()
	ex, err := sim.NewEngine(sim.Config{LotStep: "0.0001"}, quotes)
	require.NoError(t, err)
	ex.SetClock(clock.Now)

	bank := breaker.NewBank(breaker.DefaultConfig(), db, log, breaker.WithClock(clock.Now))
	require.NoError(t, bank.Load(ctx))

	pf := portfolio.New(10000, t0)
	orders := &failingOrders{SQLite: db}
	eng := execution.NewEngine(execution.DefaultConfig(), ex, ratelimit.New(ratelimit.DefaultConfig()), orders, pf, log,
		execution.WithClock(clock.Now),
		execution.WithSleep(func(context.Context, time.Duration) error { return nil }),
		execution.WithOutcomes(bank),
		execution.WithTrades(db),
		execution.WithFillStore(orders),
	)

	strats := []strategy.Strategy{fixed{"a", market.Long}, fixed{"b", market.Long}}
	s := &sink{}

	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Interval = 0

	drv, err := New(cfg, Deps{
		Feed:       fd,
		Classifier: regime.NewClassifier(regime.DefaultConfig()),
		Strategies: strats,
		Ensemble:   ensemble.FromStrategies(ensemble.DefaultConfig(), strats, nil),
		Risk:       risk.NewManager(risk.DefaultPolicy()),
		Breakers:   bank,
		Exec:       eng,
		Portfolio:  pf,
		Quotes:     quotes,
		Store:      db,
		Journal:    db,
		Telemetry:  s,
		Log:        log,
		Clock:      clock,
	})
	require.NoError(t, err)

	return &harness{drv: drv, db: db, bank: bank, pf: pf, sink: s, clock: clock, orders: orders}
}

func TestCycleAdmitsEntryAndHonorsBreaker(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.drv.RunCycle(ctx))

	assert.Equal(t, t0.Add(30*time.Hour), h.clock.Now())
	assert.Equal(t, 30, h.drv.Window("BTCUSDT").Len())

	btc := h.sink.last("BTCUSDT")
	assert.Equal(t, telemetry.StageBreaker, btc.Stage)
	assert.False(t, btc.Allowed)
	assert.Contains(t, btc.Reason, "asset")

	eth := h.sink.last("ETHUSDT")
	assert.Equal(t, telemetry.StageExecution, eth.Stage)
	assert.True(t, eth.Allowed)
	assert.Equal(t, regime.RandomWalk.String(), eth.Regime)

	snap := h.pf.Snapshot()
	require.Equal(t, 1, snap.OpenPositions)
	pos, ok := snap.Position("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 6, pos.Quantity, 1e-3)
	assert.InDelta(t, 49, pos.StopPrice, 1e-9)

	filled, err := h.db.OrdersByState(ctx, execution.Filled)
	require.NoError(t, err)
	assert.Len(t, filled, 1)

	st, ok, err := h.db.LoadPortfolio(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, st.Positions, "ETHUSDT")

	eq, err := h.db.ListEquityBetween(ctx, t0, t0.Add(100*time.Hour))
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.InDelta(t, 10000, eq[0].Equity, 1e-6)
}

func TestCycleStopExitThenCooldown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.drv.RunCycle(ctx))
	require.NoError(t, h.drv.RunCycle(ctx))

	eth := h.sink.last("ETHUSDT")
	assert.Equal(t, telemetry.StageExit, eth.Stage)
	assert.Equal(t, "stop", eth.Reason)
	assert.Zero(t, h.pf.Snapshot().OpenPositions)

	trades, err := h.db.ListTradesClosedBetween(ctx, t0, t0.Add(100*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, -6, trades[0].PnL, 1e-3)
	assert.Equal(t, "ensemble", trades[0].Strategy)

	var streak int
	for _, s := range h.bank.States() {
		if s.Kind == breaker.ConsecutiveLoss && s.Scope == breaker.ScopeAll {
			streak = s.Count
		}
	}
	assert.Equal(t, 1, streak)

	require.NoError(t, h.drv.RunCycle(ctx))
	eth = h.sink.last("ETHUSDT")
	assert.Equal(t, telemetry.StageRisk, eth.Stage)
	assert.Equal(t, risk.CodeLossCooldown, eth.Reason)

	assert.ErrorIs(t, h.drv.RunCycle(ctx), ErrFeedsDone)
}

func TestRunStopsWhenFeedsAreDone(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.drv.Run(context.Background()))

	trades, err := h.db.ListTradesClosedBetween(context.Background(), t0, t0.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, h.drv.Run(ctx))
}

func TestCycleEscalatesPersistenceFault(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.orders.fail = true

	err := h.drv.RunCycle(context.Background())
	assert.ErrorIs(t, err, execution.ErrPersist)
	assert.True(t, Escalated(err))
	assert.Zero(t, h.pf.Snapshot().OpenPositions)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	good := DefaultConfig()
	good.Symbols = []string{"BTCUSDT"}
	require.NoError(t, good.Validate())

	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"duplicate symbol", func(c *Config) { c.Symbols = []string{"X", "X"} }},
		{"bad timeframe", func(c *Config) { c.Timeframe = "H1" }},
		{"tiny window", func(c *Config) { c.WindowSize = 1 }},
		{"no concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"no strategy id", func(c *Config) { c.StrategyID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := good
			c.Symbols = append([]string(nil), good.Symbols...)
			tt.mut(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT"}
	_, err := New(cfg, Deps{})
	assert.Error(t, err)
}
