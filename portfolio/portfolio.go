// Package portfolio tracks cash, open positions and realized trade history.
// All mutation goes through one mutex; readers take consistent Snapshots.
package portfolio

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
)

var (
	ErrPositionExists = errors.New("position already open")
	ErrNoPosition     = errors.New("no open position")
	ErrBadFill        = errors.New("invalid fill")
)

// DefaultHistoryLimit bounds the rolling trade history.
const DefaultHistoryLimit = 500

type Position struct {
	Symbol     string      `json:"symbol"`
	Strategy   string      `json:"strategy"`
	Side       market.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	StopPrice  float64     `json:"stop_price"`
	EntryFee   float64     `json:"entry_fee"`
	OpenedAt   time.Time   `json:"opened_at"`
}

// StopHit reports whether a bar's range reached the protective stop.
func (p Position) StopHit(c market.Candle) bool {
	if p.StopPrice <= 0 {
		return false
	}
	if p.Side == market.Buy {
		return c.Low <= p.StopPrice
	}
	return c.High >= p.StopPrice
}

// TradeOutcome is a realized round trip.
type TradeOutcome struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Strategy   string      `json:"strategy"`
	Side       market.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	Fees       float64     `json:"fees"`
	PnL        float64     `json:"pnl"`
	OpenedAt   time.Time   `json:"opened_at"`
	ClosedAt   time.Time   `json:"closed_at"`
	Reason     string      `json:"reason"`
}

func (t TradeOutcome) Win() bool { return t.PnL > 0 }

// Fill is an executed order applied to the portfolio.
type Fill struct {
	Symbol    string
	Strategy  string
	Side      market.Side
	Quantity  float64
	Price     float64
	Fee       float64
	StopPrice float64
	Time      time.Time
	Reason    string
}

func (f Fill) validate() error {
	if f.Symbol == "" || f.Quantity <= 0 || f.Price <= 0 || f.Fee < 0 {
		return fmt.Errorf("%w: %s qty=%g price=%g fee=%g", ErrBadFill, f.Symbol, f.Quantity, f.Price, f.Fee)
	}
	if f.Side != market.Buy && f.Side != market.Sell {
		return fmt.Errorf("%w: side %q", ErrBadFill, f.Side)
	}
	return nil
}

// State is the durable part of the portfolio.
type State struct {
	Cash              float64              `json:"cash"`
	Positions         map[string]Position  `json:"positions"`
	Marks             map[string]float64   `json:"marks"`
	EquityPeak        float64              `json:"equity_peak"`
	DayStart          time.Time            `json:"day_start"`
	StartOfDayEquity  float64              `json:"start_of_day_equity"`
	DailyPnL          float64              `json:"daily_pnl"`
	ConsecutiveLosses int                  `json:"consecutive_losses"`
	SymbolLosses      map[string]int       `json:"symbol_losses"`
	LastLoss          map[string]time.Time `json:"last_loss"`
	History           []TradeOutcome       `json:"history"`
}

// Snapshot is a consistent, caller-owned copy of the portfolio.
type Snapshot struct {
	State
	Equity        float64
	OpenPositions int
}

// Drawdown is the fractional decline of equity from its peak.
func (s Snapshot) Drawdown() float64 {
	if s.EquityPeak <= 0 {
		return 0
	}
	return (s.EquityPeak - s.Equity) / s.EquityPeak
}

// Position returns the open position for symbol, if any.
func (s Snapshot) Position(symbol string) (Position, bool) {
	p, ok := s.Positions[symbol]
	return p, ok
}

type Portfolio struct {
	mu           sync.RWMutex
	st           State
	historyLimit int
}

func New(cash float64, now time.Time) *Portfolio {
	day := utcDay(now)
	return &Portfolio{
		historyLimit: DefaultHistoryLimit,
		st: State{
			Cash:             cash,
			Positions:        make(map[string]Position),
			Marks:            make(map[string]float64),
			EquityPeak:       cash,
			DayStart:         day,
			StartOfDayEquity: cash,
			SymbolLosses:     make(map[string]int),
			LastLoss:         make(map[string]time.Time),
		},
	}
}

// Restore rebuilds a portfolio from persisted state.
func Restore(st State) *Portfolio {
	p := &Portfolio{historyLimit: DefaultHistoryLimit, st: cloneState(st)}
	if p.st.Positions == nil {
		p.st.Positions = make(map[string]Position)
	}
	if p.st.Marks == nil {
		p.st.Marks = make(map[string]float64)
	}
	if p.st.SymbolLosses == nil {
		p.st.SymbolLosses = make(map[string]int)
	}
	if p.st.LastLoss == nil {
		p.st.LastLoss = make(map[string]time.Time)
	}
	return p
}

// Reset replaces the state in place, undoing a fill whose write failed.
func (p *Portfolio) Reset(st State) {
	r := Restore(st)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st = r.st
}

func (p *Portfolio) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		State:         cloneState(p.st),
		Equity:        p.equityLocked(),
		OpenPositions: len(p.st.Positions),
	}
}

// State returns a copy of the durable state.
func (p *Portfolio) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneState(p.st)
}

func (p *Portfolio) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

// Mark records the latest price for symbol and revalues the portfolio.
func (p *Portfolio) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st.Marks[symbol] = price
	p.updatePeakLocked()
}

// Open applies an entry fill.
func (p *Portfolio) Open(f Fill) error {
	if err := f.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.st.Positions[f.Symbol]; ok {
		return fmt.Errorf("open %s: %w", f.Symbol, ErrPositionExists)
	}

	notional := f.Quantity * f.Price
	p.st.Cash -= f.Side.Sign()*notional + f.Fee
	p.st.Positions[f.Symbol] = Position{
		Symbol:     f.Symbol,
		Strategy:   f.Strategy,
		Side:       f.Side,
		Quantity:   f.Quantity,
		EntryPrice: f.Price,
		StopPrice:  f.StopPrice,
		EntryFee:   f.Fee,
		OpenedAt:   f.Time,
	}
	if _, ok := p.st.Marks[f.Symbol]; !ok {
		p.st.Marks[f.Symbol] = f.Price
	}
	p.updatePeakLocked()
	return nil
}

// Close applies an exit fill against the open position for f.Symbol and
// returns the realized outcome. The fill side must oppose the position; a
// quantity smaller than the position closes it partially.
func (p *Portfolio) Close(f Fill) (TradeOutcome, error) {
	if err := f.validate(); err != nil {
		return TradeOutcome{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.st.Positions[f.Symbol]
	if !ok {
		return TradeOutcome{}, fmt.Errorf("close %s: %w", f.Symbol, ErrNoPosition)
	}
	if f.Side != pos.Side.Opposite() {
		return TradeOutcome{}, fmt.Errorf("close %s: %w: side %s does not close %s", f.Symbol, ErrBadFill, f.Side, pos.Side)
	}

	qty := min(f.Quantity, pos.Quantity)
	frac := qty / pos.Quantity
	entryFee := pos.EntryFee * frac

	p.st.Cash += pos.Side.Sign()*qty*f.Price - f.Fee

	gross := pos.Side.Sign() * (f.Price - pos.EntryPrice) * qty
	out := TradeOutcome{
		ID:         id.New(),
		Symbol:     pos.Symbol,
		Strategy:   pos.Strategy,
		Side:       pos.Side,
		Quantity:   qty,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  f.Price,
		Fees:       entryFee + f.Fee,
		PnL:        gross - entryFee - f.Fee,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   f.Time,
		Reason:     f.Reason,
	}

	if remaining := pos.Quantity - qty; remaining > 1e-12 {
		pos.Quantity = remaining
		pos.EntryFee -= entryFee
		p.st.Positions[f.Symbol] = pos
	} else {
		delete(p.st.Positions, f.Symbol)
	}

	p.recordOutcomeLocked(out)
	p.st.Marks[f.Symbol] = f.Price
	p.updatePeakLocked()
	return out, nil
}

func (p *Portfolio) recordOutcomeLocked(out TradeOutcome) {
	p.st.DailyPnL += out.PnL
	if out.Win() {
		p.st.ConsecutiveLosses = 0
		p.st.SymbolLosses[out.Symbol] = 0
	} else {
		p.st.ConsecutiveLosses++
		p.st.SymbolLosses[out.Symbol]++
		p.st.LastLoss[out.Symbol] = out.ClosedAt
	}
	p.st.History = append(p.st.History, out)
	if over := len(p.st.History) - p.historyLimit; over > 0 {
		p.st.History = append([]TradeOutcome(nil), p.st.History[over:]...)
	}
}

// RollDay resets the daily PnL baseline when now falls on a later UTC day
// than the current one. It reports whether a reset happened.
func (p *Portfolio) RollDay(now time.Time) bool {
	day := utcDay(now)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !day.After(p.st.DayStart) {
		return false
	}
	p.st.DayStart = day
	p.st.DailyPnL = 0
	p.st.StartOfDayEquity = p.equityLocked()
	return true
}

// ResetPeak sets the equity peak to current equity. This is the only way
// the peak moves down.
func (p *Portfolio) ResetPeak() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st.EquityPeak = p.equityLocked()
}

func (p *Portfolio) equityLocked() float64 {
	eq := p.st.Cash
	for sym, pos := range p.st.Positions {
		px, ok := p.st.Marks[sym]
		if !ok {
			px = pos.EntryPrice
		}
		eq += pos.Side.Sign() * pos.Quantity * px
	}
	return eq
}

func (p *Portfolio) updatePeakLocked() {
	if eq := p.equityLocked(); eq > p.st.EquityPeak {
		p.st.EquityPeak = eq
	}
}

func cloneState(st State) State {
	out := st
	out.Positions = maps.Clone(st.Positions)
	out.Marks = maps.Clone(st.Marks)
	out.SymbolLosses = maps.Clone(st.SymbolLosses)
	out.LastLoss = maps.Clone(st.LastLoss)
	out.History = append([]TradeOutcome(nil), st.History...)
	return out
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
