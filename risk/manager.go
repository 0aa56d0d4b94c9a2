package risk

import (
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/ensemble"
	"github.com/rustyeddy/tradeguard/indicators"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
)

// Rejection codes, in evaluation order.
const (
	CodeNoDirection      = "NO_DIRECTION"
	CodeLowConfidence    = "LOW_CONFIDENCE"
	CodeMaxOpenPositions = "MAX_OPEN_POSITIONS"
	CodeDailyLossLimit   = "DAILY_LOSS_LIMIT"
	CodeMaxDrawdown      = "MAX_DRAWDOWN"
	CodeLossCooldown     = "LOSS_COOLDOWN"
	CodeNoPrice          = "NO_PRICE"
	CodeBelowMinNotional = "BELOW_MIN_NOTIONAL"
)

type Violation struct {
	Code string
	Msg  string
}

// SizedOrder is an approved entry ready for the breaker bank and execution.
type SizedOrder struct {
	Symbol     string
	Side       market.Side
	Quantity   float64
	Price      float64
	StopPrice  float64
	Notional   float64
	Confidence float64
}

// Decision is the outcome of a risk evaluation. A rejection is a normal
// value carrying the first violated check.
type Decision struct {
	Allowed    bool
	Violations []Violation
	Order      SizedOrder

	KellyFraction float64
	KellyFallback bool
	VolScale      float64
	CorrScale     float64
	Fraction      float64

	PlannedRisk    float64
	PlannedRiskPct float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason is the code of the rejecting check, or "" when allowed.
func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Code
}

// Inputs is everything a single evaluation reads. The snapshot must be taken
// under the same admission critical section that submits the order.
type Inputs struct {
	Directive      ensemble.Directive
	Snapshot       portfolio.Snapshot
	PendingEntries int
	Window         *market.PriceWindow
	Correlations   Correlations
	Now            time.Time
}

type Manager struct {
	p Policy
}

func NewManager(p Policy) *Manager {
	return &Manager{p: p}
}

func (m *Manager) Policy() Policy { return m.p }

// Evaluate runs the ordered checks and stops at the first rejection.
func (m *Manager) Evaluate(in Inputs) Decision {
	p := m.p
	d := Decision{Allowed: true}
	dir := in.Directive
	snap := in.Snapshot
	sym := dir.Symbol

	// 1. direction and confidence
	if dir.Direction == market.Flat {
		d.add(CodeNoDirection, fmt.Sprintf("directive is flat (%s)", dir.Hold))
		return d
	}
	if dir.Confidence < p.ConfidenceThreshold {
		d.add(CodeLowConfidence, fmt.Sprintf("confidence %.3f below %.3f", dir.Confidence, p.ConfidenceThreshold))
		return d
	}

	// 2. exposure
	if open := snap.OpenPositions + in.PendingEntries; open >= p.MaxOpenPositions {
		d.add(CodeMaxOpenPositions, fmt.Sprintf("open positions %d >= max %d", open, p.MaxOpenPositions))
		return d
	}

	// 3. daily loss
	if limit := -p.MaxDailyLossPct * snap.StartOfDayEquity; snap.DailyPnL <= limit {
		d.add(CodeDailyLossLimit, fmt.Sprintf("daily pnl %.2f <= limit %.2f", snap.DailyPnL, limit))
		return d
	}

	// 4. drawdown from peak
	if dd := snap.Drawdown(); dd >= p.MaxDrawdownPct {
		d.add(CodeMaxDrawdown, fmt.Sprintf("drawdown %.2f%% >= max %.2f%%", 100*dd, 100*p.MaxDrawdownPct))
		return d
	}

	// 5. post-loss cooldown
	if last, ok := snap.LastLoss[sym]; ok && p.LossCooldown > 0 {
		if until := last.Add(p.LossCooldown); in.Now.Before(until) {
			d.add(CodeLossCooldown, fmt.Sprintf("%s cooling down until %s", sym, until.UTC().Format(time.RFC3339)))
			return d
		}
	}

	last, ok := in.Window.Last()
	if !ok || last.Close <= 0 {
		d.add(CodeNoPrice, fmt.Sprintf("no price for %s", sym))
		return d
	}
	price := last.Close

	// 6. half-Kelly
	f, kellyOK := KellyFraction(snap.History, p.KellyLookback, p.KellyMinTrades, p.KellyCap)
	if !kellyOK {
		f = p.MinFraction
		d.KellyFallback = true
	}
	d.KellyFraction = f

	// 7. volatility targeting
	d.VolScale = VolScale(indicators.RealizedVol(in.Window.Closes(), p.PeriodsPerYear), p.TargetVol, p.VolScaleCap)
	f *= d.VolScale

	// 8. correlation with held symbols
	held := make([]string, 0, len(snap.Positions))
	for s := range snap.Positions {
		held = append(held, s)
	}
	avg, n := in.Correlations.Average(sym, held)
	d.CorrScale = CorrScale(avg, n, p.CorrThreshold)
	f *= d.CorrScale
	d.Fraction = f

	// 9. notional
	notional := snap.Equity * f
	if notional < p.MinNotional || notional <= 0 {
		d.add(CodeBelowMinNotional, fmt.Sprintf("notional %.2f below minimum %.2f", notional, p.MinNotional))
		return d
	}

	side := dir.Direction.Side()
	qty := notional / price
	stop := StopPrice(side, price, in.Window.Tail(p.ATRPeriod*3), p.ATRPeriod, p.StopATRMult, p.FallbackStop)

	d.Order = SizedOrder{
		Symbol:     sym,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		StopPrice:  stop,
		Notional:   notional,
		Confidence: dir.Confidence,
	}
	d.PlannedRisk = PlannedRisk(qty, price, stop)
	d.PlannedRiskPct = RiskPct(d.PlannedRisk, snap.Equity)
	return d
}
