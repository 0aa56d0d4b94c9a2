package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

// KlineSource is implemented by broker/binance.Client.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// Binance polls closed klines and hands out only the bars newer than the
// last one returned for each symbol.
type Binance struct {
	src      KlineSource
	interval string
	limit    int

	mu   sync.Mutex
	last map[string]time.Time
}

func NewBinance(src KlineSource, interval string, limit int) *Binance {
	return &Binance{src: src, interval: interval, limit: limit, last: make(map[string]time.Time)}
}

func (b *Binance) Next(ctx context.Context, symbol string) ([]market.Candle, error) {
	bars, err := b.src.Klines(ctx, symbol, b.interval, b.limit)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	last := b.last[symbol]
	out := bars[:0:0]
	for _, c := range bars {
		if c.Time.After(last) {
			out = append(out, c)
			last = c.Time
		}
	}
	b.last[symbol] = last
	return out, nil
}
