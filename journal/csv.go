package journal

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/portfolio"
)

var (
	tradeHeader  = []string{"trade_id", "symbol", "strategy", "side", "quantity", "entry_price", "exit_price", "fees", "pnl", "open_time", "close_time", "reason"}
	equityHeader = []string{"time", "cash", "equity", "equity_peak", "drawdown", "daily_pnl", "open_positions"}
)

// CSVJournal appends trades and equity points to two CSV files. Existing
// files are appended to; new files get a header row.
type CSVJournal struct {
	mu     sync.Mutex
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, tw, err := openCSV(tradesPath, tradeHeader)
	if err != nil {
		return nil, err
	}
	ef, ew, err := openCSV(equityPath, equityHeader)
	if err != nil {
		tf.Close()
		return nil, err
	}
	return &CSVJournal{trades: tw, equity: ew, tf: tf, ef: ef}, nil
}

func openCSV(path string, header []string) (*os.File, *csv.Writer, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, nil, err
	}
	w := csv.NewWriter(fh)
	if st.Size() == 0 {
		w.Write(header)
		w.Flush()
		if err := w.Error(); err != nil {
			fh.Close()
			return nil, nil, err
		}
	}
	return fh, w, nil
}

func (j *CSVJournal) RecordTrade(_ context.Context, t portfolio.TradeOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.trades.Write([]string{
		t.ID,
		t.Symbol,
		t.Strategy,
		string(t.Side),
		f(t.Quantity),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.Fees),
		f(t.PnL),
		t.OpenedAt.UTC().Format(time.RFC3339),
		t.ClosedAt.UTC().Format(time.RFC3339),
		t.Reason,
	})
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSVJournal) RecordEquity(_ context.Context, e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.equity.Write([]string{
		e.Time.UTC().Format(time.RFC3339),
		f(e.Cash),
		f(e.Equity),
		f(e.EquityPeak),
		f(e.Drawdown),
		f(e.DailyPnL),
		strconv.Itoa(e.OpenPositions),
	})
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.trades.Flush()
	j.equity.Flush()
	return errors.Join(j.trades.Error(), j.equity.Error(), j.tf.Close(), j.ef.Close())
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
