package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
)

// HistorySource is implemented by broker/binance.Client.
type HistorySource interface {
	KlinesRange(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]market.Candle, error)
}

// Download settings. PageSize is capped at 1000 by the exchange.
type Download struct {
	Symbol   string
	Interval string
	From     time.Time
	To       time.Time
	PageSize int
	Retries  int
}

// Run pages through [From, To) and writes every closed bar once, in the
// layout ReadCandles accepts. It returns the number of rows written.
func (d Download) Run(ctx context.Context, src HistorySource, w io.Writer) (int, error) {
	if !d.From.Before(d.To) {
		return 0, fmt.Errorf("download %s: from must be before to", d.Symbol)
	}
	step, err := market.ParseTimeframe(d.Interval)
	if err != nil {
		return 0, err
	}
	size := d.PageSize
	if size <= 0 || size > 1000 {
		size = 1000
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}

	var (
		total int
		last  time.Time
	)
	for cur := d.From; cur.Before(d.To); {
		page, err := d.fetch(ctx, src, cur, size)
		if err != nil {
			return total, err
		}

		for _, c := range page {
			if c.Time.Before(d.From) || !c.Time.Before(d.To) || !c.Time.After(last) {
				continue
			}
			if err := cw.Write(candleRow(c)); err != nil {
				return total, err
			}
			last = c.Time
			total++
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return total, err
		}

		// An empty page is a gap in the history: skip a page worth of bars.
		next := cur.Add(time.Duration(size) * step)
		if n := len(page); n > 0 {
			if t := page[n-1].Time.Add(step); t.After(cur) {
				next = t
			}
		}
		cur = next
	}
	return total, nil
}

func (d Download) fetch(ctx context.Context, src HistorySource, from time.Time, size int) ([]market.Candle, error) {
	bo := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true}
	for {
		page, err := src.KlinesRange(ctx, d.Symbol, d.Interval, from, d.To, size)
		if err == nil {
			return page, nil
		}
		if !broker.IsRetryable(err) || int(bo.Attempt()) >= d.Retries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bo.Duration()):
		}
	}
}

var csvHeader = []string{"time", "open", "high", "low", "close", "volume"}

func candleRow(c market.Candle) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{c.Time.UTC().Format(time.RFC3339), f(c.Open), f(c.High), f(c.Low), f(c.Close), f(c.Volume)}
}

// WriteCandles writes bars with a header row in the layout ReadCandles
// accepts.
func WriteCandles(w io.Writer, bars []market.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range bars {
		if err := cw.Write(candleRow(c)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
