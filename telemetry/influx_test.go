package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (f *fakeWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, p...)
	return nil
}

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestInfluxRecordDecision(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	i := newInfluxWithWriter(w)
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, i.RecordDecision(context.Background(), Decision{
		Time:       ts,
		CycleID:    "c1",
		Symbol:     "BTCUSDT",
		Regime:     "TRENDING_STRONG",
		Direction:  1,
		Confidence: 0.8,
		Stage:      StageBreaker,
		Reason:     "asset breaker",
	}))

	require.Len(t, w.points, 1)
	p := w.points[0]
	assert.Equal(t, "decision", p.Name())
	assert.True(t, p.Time().Equal(ts))
	assert.Equal(t, map[string]string{
		"symbol": "BTCUSDT", "regime": "TRENDING_STRONG", "stage": "breaker", "allowed": "false",
	}, tags(p))
	assert.Equal(t, "asset breaker", fields(p)["reason"])
	assert.InDelta(t, 0.8, fields(p)["confidence"], 1e-9)
}

func TestInfluxRecordTradeAndEquity(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	i := newInfluxWithWriter(w)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, i.RecordTrade(ctx, portfolio.TradeOutcome{
		Symbol: "ETHUSDT", Strategy: "rsi_reversion", Side: market.Sell,
		PnL: -3.5, OpenedAt: ts.Add(-time.Hour), ClosedAt: ts,
	}))
	require.NoError(t, i.RecordEquity(ctx, journal.EquitySnapshot{Time: ts, Equity: 990, OpenPositions: 1}))

	require.Len(t, w.points, 2)
	assert.Equal(t, "trade", w.points[0].Name())
	assert.Equal(t, "SELL", tags(w.points[0])["side"])
	assert.InDelta(t, 3600, fields(w.points[0])["hold_secs"], 1e-9)
	assert.Equal(t, "equity", w.points[1].Name())
	assert.InDelta(t, 990, fields(w.points[1])["equity"], 1e-9)
}

func TestInfluxWriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("write failed")
	i := newInfluxWithWriter(&fakeWriter{err: boom})
	err := i.RecordEquity(context.Background(), journal.EquitySnapshot{})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, i.Close())
}

func TestNop(t *testing.T) {
	t.Parallel()

	var s Sink = Nop{}
	assert.NoError(t, s.RecordDecision(context.Background(), Decision{}))
	assert.NoError(t, s.Close())
}
