// Package journal persists orders, breaker states, portfolio state, closed
// trades and the equity curve.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/portfolio"
)

var ErrNotFound = errors.New("not found")

// EquitySnapshot is one point on the equity curve.
type EquitySnapshot struct {
	Time          time.Time
	Cash          float64
	Equity        float64
	EquityPeak    float64
	Drawdown      float64
	DailyPnL      float64
	OpenPositions int
}

func SnapshotOf(t time.Time, s portfolio.Snapshot) EquitySnapshot {
	return EquitySnapshot{
		Time:          t,
		Cash:          s.Cash,
		Equity:        s.Equity,
		EquityPeak:    s.EquityPeak,
		Drawdown:      s.Drawdown(),
		DailyPnL:      s.DailyPnL,
		OpenPositions: s.OpenPositions,
	}
}

type Journal interface {
	RecordTrade(ctx context.Context, t portfolio.TradeOutcome) error
	RecordEquity(ctx context.Context, e EquitySnapshot) error
	Close() error
}

type PortfolioStore interface {
	SavePortfolio(ctx context.Context, st portfolio.State) error
	// LoadPortfolio reports ok=false when no state has been saved yet.
	LoadPortfolio(ctx context.Context) (st portfolio.State, ok bool, err error)
}

// Store is everything the trading loop persists.
type Store interface {
	execution.Store
	execution.FillStore
	breaker.Store
	PortfolioStore
	Journal
}

// Tee fans journal writes out to several journals. Every journal is written
// even when an earlier one fails.
type Tee []Journal

func (t Tee) RecordTrade(ctx context.Context, tr portfolio.TradeOutcome) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordTrade(ctx, tr))
	}
	return errors.Join(errs...)
}

func (t Tee) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordEquity(ctx, e))
	}
	return errors.Join(errs...)
}

func (t Tee) Close() error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
