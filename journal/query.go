package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
)

const tradeColumns = `trade_id, symbol, strategy, side, quantity, entry_price, exit_price, fees, pnl, open_time, close_time, reason`

func scanTrade(s scanner) (portfolio.TradeOutcome, error) {
	var (
		t    portfolio.TradeOutcome
		side string
	)
	err := s.Scan(&t.ID, &t.Symbol, &t.Strategy, &side, &t.Quantity, &t.EntryPrice,
		&t.ExitPrice, &t.Fees, &t.PnL, &t.OpenedAt, &t.ClosedAt, &t.Reason)
	t.Side = market.Side(side)
	return t, err
}

// GetTrade returns a single trade by ID.
func (j *SQLite) GetTrade(ctx context.Context, tradeID string) (portfolio.TradeOutcome, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return portfolio.TradeOutcome{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
	}
	return t, err
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]portfolio.TradeOutcome, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []portfolio.TradeOutcome
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListEquityBetween returns equity points with time in [start, end).
func (j *SQLite) ListEquityBetween(ctx context.Context, start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT time, cash, equity, equity_peak, drawdown, daily_pnl, open_positions
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Cash, &e.Equity, &e.EquityPeak, &e.Drawdown, &e.DailyPnL, &e.OpenPositions); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TradeStats summarizes realized trades.
type TradeStats struct {
	Trades       int
	Wins         int
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
	WinRate      float64
}

func Stats(trades []portfolio.TradeOutcome) TradeStats {
	var s TradeStats
	for _, t := range trades {
		s.Trades++
		switch {
		case t.PnL > 0:
			s.Wins++
			s.GrossProfit += t.PnL
		case t.PnL < 0:
			s.GrossLoss += -t.PnL
		}
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	return s
}
