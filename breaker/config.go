package breaker

import (
	"fmt"
	"time"
)

type Config struct {
	AssetDropPct  float64       // 0.15
	AssetLookback int           // 24 bars
	AssetLockout  time.Duration // 4h

	PortfolioDrawdownPct float64       // 0.10
	PortfolioLockout     time.Duration // 24h

	ConsecutiveLosses  int           // 3
	ConsecutiveScope   string        // "portfolio" or "symbol"
	ConsecutiveLockout time.Duration // 4h

	FlashCrashPct     float64       // 0.20
	FlashCrashLockout time.Duration // 4h
}

const (
	ScopeModePortfolio = "portfolio"
	ScopeModeSymbol    = "symbol"
)

func DefaultConfig() Config {
	return Config{
		AssetDropPct:  0.15,
		AssetLookback: 24,
		AssetLockout:  4 * time.Hour,

		PortfolioDrawdownPct: 0.10,
		PortfolioLockout:     24 * time.Hour,

		ConsecutiveLosses:  3,
		ConsecutiveScope:   ScopeModePortfolio,
		ConsecutiveLockout: 4 * time.Hour,

		FlashCrashPct:     0.20,
		FlashCrashLockout: 4 * time.Hour,
	}
}

func (c Config) Validate() error {
	switch {
	case c.AssetDropPct <= 0 || c.AssetDropPct >= 1:
		return fmt.Errorf("breakers.asset_drop_pct must be in (0,1)")
	case c.AssetLookback < 1:
		return fmt.Errorf("breakers.asset_lookback must be at least 1")
	case c.PortfolioDrawdownPct <= 0 || c.PortfolioDrawdownPct >= 1:
		return fmt.Errorf("breakers.portfolio_drawdown_pct must be in (0,1)")
	case c.ConsecutiveLosses < 1:
		return fmt.Errorf("breakers.consecutive_losses must be at least 1")
	case c.ConsecutiveScope != ScopeModePortfolio && c.ConsecutiveScope != ScopeModeSymbol:
		return fmt.Errorf("breakers.consecutive_scope must be %q or %q", ScopeModePortfolio, ScopeModeSymbol)
	case c.FlashCrashPct <= 0 || c.FlashCrashPct >= 1:
		return fmt.Errorf("breakers.flash_crash_pct must be in (0,1)")
	case c.AssetLockout <= 0 || c.PortfolioLockout <= 0 || c.ConsecutiveLockout <= 0 || c.FlashCrashLockout <= 0:
		return fmt.Errorf("breaker lockouts must be positive")
	}
	return nil
}
