package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

// CSV replays OHLCV files, one per symbol:
//
//	time,open,high,low,close,volume
//
// where time is RFC3339 or unix seconds. The first call for a symbol
// returns Warmup bars; every later call returns the next Step bars.
type CSV struct {
	Warmup int
	Step   int

	mu   sync.Mutex
	bars map[string][]market.Candle
	pos  map[string]int
}

// NewCSV loads <dir>/<symbol>.csv for each symbol.
func NewCSV(dir string, symbols []string, warmup int) (*CSV, error) {
	f := &CSV{
		Warmup: warmup,
		Step:   1,
		bars:   make(map[string][]market.Candle, len(symbols)),
		pos:    make(map[string]int, len(symbols)),
	}
	for _, sym := range symbols {
		path := filepath.Join(dir, sym+".csv")
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		bars, err := ReadCandles(fh)
		fh.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		f.bars[sym] = bars
	}
	return f, nil
}

// NewCSVFromCandles builds a replay over in-memory bars.
func NewCSVFromCandles(bars map[string][]market.Candle, warmup int) *CSV {
	return &CSV{Warmup: warmup, Step: 1, bars: bars, pos: make(map[string]int)}
}

func (f *CSV) Next(ctx context.Context, symbol string) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	bars, ok := f.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("feed: unknown symbol %q", symbol)
	}
	start := f.pos[symbol]
	if start >= len(bars) {
		return nil, ErrDone
	}

	n := f.Step
	if start == 0 && f.Warmup > n {
		n = f.Warmup
	}
	end := min(start+n, len(bars))
	f.pos[symbol] = end

	out := make([]market.Candle, end-start)
	copy(out, bars[start:end])
	return out, nil
}

// ReadCandles parses OHLCV rows. A header row is allowed and empty or short
// rows are skipped.
func ReadCandles(r io.Reader) ([]market.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var (
		out      []market.Candle
		sawFirst bool
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if !sawFirst {
			sawFirst = true
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}
		if len(row) < 6 || strings.TrimSpace(row[0]) == "" {
			continue
		}

		c, err := parseCandleRow(row)
		if err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && !c.Time.After(out[n-1].Time) {
			return nil, fmt.Errorf("row at %s: %w", c.Time.Format(time.RFC3339), market.ErrOutOfOrder)
		}
		out = append(out, c)
	}
}

func parseCandleRow(row []string) (market.Candle, error) {
	t, err := parseTime(strings.TrimSpace(row[0]))
	if err != nil {
		return market.Candle{}, err
	}

	var vals [5]float64
	for i := range vals {
		s := strings.TrimSpace(row[i+1])
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("bad value %q: %w", s, err)
		}
		vals[i] = v
	}

	c := market.Candle{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}
	if !c.Valid() {
		return market.Candle{}, fmt.Errorf("invalid bar at %s", t.Format(time.RFC3339))
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return time.Unix(sec, 0).UTC(), nil
}
