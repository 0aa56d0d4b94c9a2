package risk

import (
	"fmt"
	"time"
)

// Policy holds the risk limits and sizing parameters.
type Policy struct {
	// Gates
	ConfidenceThreshold float64       // 0.6
	MaxOpenPositions    int           // 3
	MaxDailyLossPct     float64       // 0.02
	MaxDrawdownPct      float64       // 0.10
	LossCooldown        time.Duration // 4h

	// Half-Kelly
	KellyCap       float64 // 0.05
	KellyLookback  int     // 50
	KellyMinTrades int     // 10
	MinFraction    float64 // 0.01

	// Volatility targeting
	TargetVol      float64 // 0.15 annualized
	VolScaleCap    float64 // 3.0
	PeriodsPerYear float64 // 8760 for hourly bars

	// Correlation
	CorrThreshold float64 // 0.8
	CorrLookback  int     // 100 bars

	// Final sizing
	MinNotional  float64 // 10
	ATRPeriod    int     // 14
	StopATRMult  float64 // 1.5
	FallbackStop float64 // 0.02 of price when ATR is unavailable
}

func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: 0.6,
		MaxOpenPositions:    3,
		MaxDailyLossPct:     0.02,
		MaxDrawdownPct:      0.10,
		LossCooldown:        4 * time.Hour,

		KellyCap:       0.05,
		KellyLookback:  50,
		KellyMinTrades: 10,
		MinFraction:    0.01,

		TargetVol:      0.15,
		VolScaleCap:    3.0,
		PeriodsPerYear: 24 * 365,

		CorrThreshold: 0.8,
		CorrLookback:  100,

		MinNotional:  10,
		ATRPeriod:    14,
		StopATRMult:  1.5,
		FallbackStop: 0.02,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.ConfidenceThreshold < 0 || p.ConfidenceThreshold >= 1:
		return fmt.Errorf("risk.confidence_threshold must be in [0,1)")
	case p.MaxOpenPositions < 1:
		return fmt.Errorf("risk.max_open_positions must be at least 1")
	case p.MaxDailyLossPct <= 0 || p.MaxDailyLossPct >= 1:
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0,1)")
	case p.MaxDrawdownPct <= 0 || p.MaxDrawdownPct >= 1:
		return fmt.Errorf("risk.max_drawdown_pct must be in (0,1)")
	case p.LossCooldown < 0:
		return fmt.Errorf("risk.loss_cooldown must not be negative")
	case p.KellyCap <= 0 || p.KellyCap > 1:
		return fmt.Errorf("risk.kelly_cap must be in (0,1]")
	case p.MinFraction <= 0 || p.MinFraction > p.KellyCap:
		return fmt.Errorf("risk.min_fraction must be in (0, kelly_cap]")
	case p.KellyMinTrades < 1 || p.KellyLookback < p.KellyMinTrades:
		return fmt.Errorf("risk.kelly_lookback must be >= kelly_min_trades >= 1")
	case p.TargetVol <= 0 || p.VolScaleCap < 1 || p.PeriodsPerYear <= 0:
		return fmt.Errorf("risk volatility targeting needs target_vol > 0, vol_scale_cap >= 1, periods_per_year > 0")
	case p.CorrThreshold <= 0 || p.CorrThreshold >= 1:
		return fmt.Errorf("risk.corr_threshold must be in (0,1)")
	case p.MinNotional < 0:
		return fmt.Errorf("risk.min_notional must not be negative")
	case p.ATRPeriod < 1 || p.StopATRMult <= 0 || p.FallbackStop <= 0 || p.FallbackStop >= 1:
		return fmt.Errorf("risk stop parameters out of range")
	}
	return nil
}
