package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	qs := market.NewQuoteStore()
	qs.Set(market.Quote{Symbol: "BTCUSDT", Time: time.Unix(0, 0), Price: 100})
	e, err := NewEngine(cfg, qs)
	require.NoError(t, err)
	return e
}

func TestCreateOrderFillsWithSlippageAndFee(t *testing.T) {
	t.Parallel()

	e := newEngine(t, DefaultConfig())
	ctx := context.Background()

	rep, err := e.CreateOrder(ctx, broker.OrderRequest{ClientOrderID: "a1", Symbol: "BTCUSDT", Side: market.Buy, Quantity: 1.234567891})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, rep.Status)
	assert.InDelta(t, 1.23456, rep.FilledQty, 1e-12)
	assert.InDelta(t, 100.05, rep.AvgPrice, 1e-9)
	assert.InDelta(t, 1.23456*100.05*0.001, rep.Fee, 1e-9)
	assert.NotEmpty(t, rep.ExchangeOrderID)

	sell, err := e.CreateOrder(ctx, broker.OrderRequest{ClientOrderID: "a2", Symbol: "BTCUSDT", Side: market.Sell, Quantity: 1})
	require.NoError(t, err)
	assert.InDelta(t, 99.95, sell.AvgPrice, 1e-9)

	got, err := e.GetOrder(ctx, "BTCUSDT", "a1")
	require.NoError(t, err)
	assert.Equal(t, rep, got)
}

func TestCreateOrderDuplicateRejected(t *testing.T) {
	t.Parallel()

	e := newEngine(t, DefaultConfig())
	req := broker.OrderRequest{ClientOrderID: "dup", Symbol: "BTCUSDT", Side: market.Buy, Quantity: 1}

	_, err := e.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	_, err = e.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, broker.ErrDuplicateOrder)
	assert.Len(t, e.Orders(), 1)
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	e := newEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, broker.OrderRequest{ClientOrderID: "x", Symbol: "NOPE", Side: market.Buy, Quantity: 1})
	assert.ErrorIs(t, err, broker.ErrInvalidSymbol)

	_, err = e.CreateOrder(ctx, broker.OrderRequest{ClientOrderID: "y", Symbol: "BTCUSDT", Side: market.Buy, Quantity: 0.000001})
	assert.ErrorIs(t, err, broker.ErrRejected)
}

func TestFaultInjection(t *testing.T) {
	t.Parallel()

	e := newEngine(t, DefaultConfig())
	ctx := context.Background()
	req := broker.OrderRequest{ClientOrderID: "f1", Symbol: "BTCUSDT", Side: market.Buy, Quantity: 1}

	e.InjectFault(OpCreate, FaultTimeoutLost)
	_, err := e.CreateOrder(ctx, req)
	assert.ErrorIs(t, err, broker.ErrTimeout)
	_, err = e.GetOrder(ctx, "BTCUSDT", "f1")
	assert.ErrorIs(t, err, broker.ErrOrderNotFound, "lost timeout leaves no order")

	e.InjectFault(OpCreate, FaultTimeoutLanded)
	_, err = e.CreateOrder(ctx, req)
	assert.ErrorIs(t, err, broker.ErrTimeout)
	got, err := e.GetOrder(ctx, "BTCUSDT", "f1")
	require.NoError(t, err, "landed timeout records the order")
	assert.Equal(t, broker.StatusFilled, got.Status)

	e.InjectFault(OpGet, FaultTransient)
	_, err = e.GetOrder(ctx, "BTCUSDT", "f1")
	assert.ErrorIs(t, err, broker.ErrTransient)

	assert.Equal(t, 2, e.Calls(OpCreate))
	assert.Equal(t, 3, e.Calls(OpGet))
}

func TestHoldFillsAndCancel(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.HoldFills = true
	e := newEngine(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		rep, err := e.CreateOrder(ctx, broker.OrderRequest{ClientOrderID: id, Symbol: "BTCUSDT", Side: market.Buy, Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, broker.StatusNew, rep.Status)
	}

	rep, err := e.CancelOrder(ctx, "BTCUSDT", "r1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCanceled, rep.Status)

	require.NoError(t, e.Match())
	r2, err := e.GetOrder(ctx, "BTCUSDT", "r2")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, r2.Status)

	// A filled order cannot be cancelled.
	rep, err = e.CancelOrder(ctx, "BTCUSDT", "r2")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, rep.Status)

	_, err = e.CancelOrder(ctx, "BTCUSDT", "missing")
	assert.ErrorIs(t, err, broker.ErrOrderNotFound)
}

func TestNewEngineBadLotStep(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(Config{LotStep: "zero"}, nil)
	assert.Error(t, err)
	_, err = NewEngine(Config{LotStep: "0"}, nil)
	assert.Error(t, err)
}

func TestRoundLot(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(Config{LotStep: "0.01"}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.29, e.RoundLot(0.299999), 1e-12)
	assert.InDelta(t, 3, e.RoundLot(3), 1e-12)
	assert.Equal(t, 0.0, e.RoundLot(0.009))
}
