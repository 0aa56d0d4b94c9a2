package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type history struct {
	bars  []market.Candle
	fails int
	calls int
}

func (h *history) KlinesRange(_ context.Context, _, _ string, from, to time.Time, limit int) ([]market.Candle, error) {
	h.calls++
	if h.fails > 0 {
		h.fails--
		return nil, fmt.Errorf("klines: %w", broker.ErrTransient)
	}
	var out []market.Candle
	for _, c := range h.bars {
		if !c.Time.Before(from) && c.Time.Before(to) && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func hourly(t0 time.Time, n int, skip func(int) bool) []market.Candle {
	var out []market.Candle
	for i := range n {
		if skip != nil && skip(i) {
			continue
		}
		p := 100 + float64(i)
		out = append(out, market.Candle{
			Time: t0.Add(time.Duration(i) * time.Hour),
			Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 1,
		})
	}
	return out
}

func TestDownloadPagesThroughRange(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &history{bars: hourly(t0, 100, nil), fails: 1}

	var buf bytes.Buffer
	d := Download{Symbol: "BTCUSDT", Interval: "1h", From: t0.Add(5 * time.Hour), To: t0.Add(95 * time.Hour), PageSize: 25, Retries: 2}
	n, err := d.Run(context.Background(), src, &buf)
	require.NoError(t, err)
	assert.Equal(t, 90, n)

	bars, err := ReadCandles(&buf)
	require.NoError(t, err)
	require.Len(t, bars, 90)
	assert.Equal(t, src.bars[5], bars[0])
	assert.Equal(t, src.bars[94], bars[89])
	assert.Equal(t, 5, src.calls)
}

func TestDownloadSkipsGaps(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Nothing traded between hours 10 and 39.
	src := &history{bars: hourly(t0, 60, func(i int) bool { return i >= 10 && i < 40 })}

	var buf bytes.Buffer
	d := Download{Symbol: "BTCUSDT", Interval: "1h", From: t0, To: t0.Add(60 * time.Hour), PageSize: 10}
	n, err := d.Run(context.Background(), src, &buf)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestDownloadErrors(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := Download{Symbol: "X", Interval: "1h", From: t0, To: t0}.Run(ctx, &history{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "from must be before to")

	_, err = Download{Symbol: "X", Interval: "7h", From: t0, To: t0.Add(time.Hour)}.Run(ctx, &history{}, &bytes.Buffer{})
	assert.Error(t, err)

	src := &history{bars: hourly(t0, 5, nil), fails: 3}
	_, err = Download{Symbol: "X", Interval: "1h", From: t0, To: t0.Add(5 * time.Hour), Retries: 1}.Run(ctx, src, &bytes.Buffer{})
	assert.True(t, errors.Is(err, broker.ErrTransient))
	assert.Equal(t, 2, src.calls)
}

func TestWriteCandlesRoundTrip(t *testing.T) {
	t.Parallel()

	bars := hourly(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 4, nil)
	var buf bytes.Buffer
	require.NoError(t, WriteCandles(&buf, bars))

	got, err := ReadCandles(&buf)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}
