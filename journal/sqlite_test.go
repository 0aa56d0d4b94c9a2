package journal

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Store = (*SQLite)(nil)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, name := range []string{"orders", "breakers", "portfolio_state", "trades", "equity"} {
		assert.True(t, found[name], name)
	}
}

func testOrder(key string, created time.Time) execution.Order {
	return execution.Order{
		ClientOrderID: key,
		Symbol:        "BTCUSDT",
		Strategy:      "macd",
		Intent:        execution.IntentOpen,
		Side:          market.Buy,
		Quantity:      0.5,
		StopPrice:     98,
		Notional:      50,
		Reason:        "signal",
		State:         execution.Pending,
		CycleID:       "cycle-1",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestSQLiteOrderUpsert(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	o := testOrder("k1", t0)
	require.NoError(t, j.SaveOrder(ctx, o))

	o.State = execution.Filled
	o.ExchangeOrderID = "ex-9"
	o.FilledQty = 0.5
	o.AvgPrice = 100.25
	o.Fee = 0.05
	o.Attempts = 2
	o.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, j.SaveOrder(ctx, o))

	got, err := j.GetOrder(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, execution.Filled, got.State)
	assert.Equal(t, "ex-9", got.ExchangeOrderID)
	assert.Equal(t, market.Buy, got.Side)
	assert.Equal(t, execution.IntentOpen, got.Intent)
	assert.InDelta(t, 100.25, got.AvgPrice, 1e-9)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Minute)))
}

func TestSQLiteGetOrderUnknown(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	_, err := j.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, execution.ErrUnknownOrder)
}

func TestSQLiteOpenOrders(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	states := []execution.State{execution.Submitted, execution.Filled, execution.Pending, execution.Failed, execution.Cancelled}
	for i, st := range states {
		o := testOrder(string(rune('a'+i)), t0.Add(time.Duration(i)*time.Second))
		o.State = st
		require.NoError(t, j.SaveOrder(ctx, o))
	}

	open, err := j.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a", open[0].ClientOrderID)
	assert.Equal(t, "c", open[1].ClientOrderID)

	failed, err := j.OrdersByState(ctx, execution.Failed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "d", failed[0].ClientOrderID)
}

func TestSQLiteBreakers(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tripped := breaker.State{
		Kind:         breaker.Asset,
		Scope:        "BTCUSDT",
		Tripped:      true,
		TrippedAt:    t0,
		LockoutUntil: t0.Add(4 * time.Hour),
		Anchor:       t0,
		Reason:       "drop 16%",
	}
	require.NoError(t, j.SaveBreaker(ctx, tripped))
	require.NoError(t, j.SaveBreaker(ctx, breaker.State{Kind: breaker.ConsecutiveLoss, Scope: breaker.ScopeAll, Count: 2}))

	tripped.Reason = "drop 17%"
	require.NoError(t, j.SaveBreaker(ctx, tripped))

	got, err := j.LoadBreakers(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, breaker.Asset, got[0].Kind)
	assert.True(t, got[0].Tripped)
	assert.Equal(t, "drop 17%", got[0].Reason)
	assert.True(t, got[0].LockoutUntil.Equal(t0.Add(4*time.Hour)))

	assert.Equal(t, breaker.ConsecutiveLoss, got[1].Kind)
	assert.False(t, got[1].Tripped)
	assert.Equal(t, 2, got[1].Count)
}

func TestSQLitePortfolio(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	_, ok, err := j.LoadPortfolio(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := portfolio.New(10000, t0)
	require.NoError(t, p.Open(portfolio.Fill{
		Symbol: "ETHUSDT", Strategy: "rsi", Side: market.Buy,
		Quantity: 2, Price: 50, StopPrice: 48, Time: t0,
	}))
	require.NoError(t, j.SavePortfolio(ctx, p.State()))

	st, ok, err := j.LoadPortfolio(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 9900, st.Cash, 1e-9)
	pos, found := st.Positions["ETHUSDT"]
	require.True(t, found)
	assert.InDelta(t, 48, pos.StopPrice, 1e-9)
	assert.True(t, pos.OpenedAt.Equal(t0))
}

func TestSQLiteSaveFillIsAtomic(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	o := testOrder("k1", t0)
	o.State = execution.Submitted
	require.NoError(t, j.SaveOrder(ctx, o))

	p := portfolio.New(10000, t0)
	require.NoError(t, p.Open(portfolio.Fill{Symbol: "BTCUSDT", Side: market.Buy, Quantity: 1, Price: 100, Time: t0}))

	// A portfolio that cannot be encoded aborts the whole write.
	bad := p.State()
	bad.Cash = math.NaN()
	filled := o
	filled.State = execution.Filled
	require.Error(t, j.SaveFill(ctx, filled, bad))

	got, err := j.GetOrder(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, execution.Submitted, got.State)
	_, ok, err := j.LoadPortfolio(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.SaveFill(ctx, filled, p.State()))
	got, err = j.GetOrder(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, execution.Filled, got.State)
	st, ok, err := j.LoadPortfolio(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, st.Positions, "BTCUSDT")

	open, err := j.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSQLiteRecordTradeIgnoresDuplicate(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	tr := portfolio.TradeOutcome{ID: "T1", Symbol: "BTCUSDT", Side: market.Buy, PnL: 5}
	require.NoError(t, j.RecordTrade(ctx, tr))
	tr.PnL = 99
	require.NoError(t, j.RecordTrade(ctx, tr))

	got, err := j.GetTrade(ctx, "T1")
	require.NoError(t, err)
	assert.InDelta(t, 5, got.PnL, 1e-9)
}
