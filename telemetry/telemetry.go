// Package telemetry exports per-cycle decisions, trades and the equity
// curve as time-series points.
package telemetry

import (
	"context"
	"time"

	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/portfolio"
)

// Stage names where a symbol's cycle ended.
const (
	StageRegime    = "regime"
	StageEnsemble  = "ensemble"
	StageRisk      = "risk"
	StageBreaker   = "breaker"
	StageExecution = "execution"
	StageExit      = "exit"
)

// Decision is the outcome of one symbol's pass through the pipeline.
type Decision struct {
	Time       time.Time
	CycleID    string
	Symbol     string
	Regime     string
	Direction  int
	Confidence float64
	Stage      string
	Allowed    bool
	Reason     string
	Notional   float64
}

// Sink receives decisions in addition to the journal stream.
type Sink interface {
	journal.Journal
	RecordDecision(ctx context.Context, d Decision) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordDecision(context.Context, Decision) error             { return nil }
func (Nop) RecordTrade(context.Context, portfolio.TradeOutcome) error  { return nil }
func (Nop) RecordEquity(context.Context, journal.EquitySnapshot) error { return nil }
func (Nop) Close() error                                               { return nil }
