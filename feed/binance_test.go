package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedKlines struct {
	calls [][]market.Candle
	err   error
	n     int
}

func (s *scriptedKlines) Klines(_ context.Context, _, interval string, limit int) ([]market.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := s.calls[s.n]
	s.n++
	return out, nil
}

func bar(h int) market.Candle {
	return market.Candle{Time: time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1}
}

func TestBinanceReturnsOnlyNewBars(t *testing.T) {
	t.Parallel()

	src := &scriptedKlines{calls: [][]market.Candle{
		{bar(0), bar(1), bar(2)},
		{bar(1), bar(2)},
		{bar(2), bar(3), bar(4)},
	}}
	f := NewBinance(src, "1h", 3)
	ctx := context.Background()

	got, err := f.Next(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = f.Next(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.Next(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, bar(3).Time, got[0].Time)
}

func TestBinanceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	f := NewBinance(&scriptedKlines{err: boom}, "1h", 3)
	_, err := f.Next(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, boom)
}
