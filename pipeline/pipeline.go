// Package pipeline drives one decision cycle per closed bar: regime,
// ensemble, risk, breakers and execution for every configured symbol.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/ensemble"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/feed"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/regime"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/strategy"
	"github.com/rustyeddy/tradeguard/telemetry"
	"github.com/sirupsen/logrus"
)

// ErrFeedsDone is returned by RunCycle when every symbol's replay is over.
var ErrFeedsDone = errors.New("all feeds exhausted")

type Config struct {
	Symbols     []string
	Timeframe   string
	WindowSize  int
	Concurrency int
	// Interval between cycles in live mode. Zero runs cycles back to back.
	Interval time.Duration
	// StrategyID names the ensemble in order keys. Exits use StrategyID+":exit".
	StrategyID string
}

func DefaultConfig() Config {
	return Config{
		Timeframe:   "1h",
		WindowSize:  300,
		Concurrency: 4,
		Interval:    time.Minute,
		StrategyID:  "ensemble",
	}
}

func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("pipeline.symbols must not be empty")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" || seen[s] {
			return fmt.Errorf("pipeline.symbols has an empty or duplicate entry %q", s)
		}
		seen[s] = true
	}
	if _, err := market.ParseTimeframe(c.Timeframe); err != nil {
		return fmt.Errorf("pipeline.timeframe: %w", err)
	}
	if c.WindowSize < 2 {
		return fmt.Errorf("pipeline.window_size must be at least 2")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be at least 1")
	}
	if c.Interval < 0 {
		return fmt.Errorf("pipeline.interval must not be negative")
	}
	if c.StrategyID == "" {
		return fmt.Errorf("pipeline.strategy_id must not be empty")
	}
	return nil
}

// Clock is the driver's time source. A Clock that also implements
// Advance(time.Time) is moved to each new bar's close, which is how replay
// runs keep breaker lockouts and cooldowns in bar time.
type Clock interface {
	Now() time.Time
}

type advancer interface {
	Advance(t time.Time)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Deps are the collaborators of a Driver. Journal and Telemetry are optional.
type Deps struct {
	Feed       feed.Feed
	Classifier *regime.Classifier
	Strategies []strategy.Strategy
	Ensemble   *ensemble.Ensemble
	Risk       *risk.Manager
	Breakers   *breaker.Bank
	Exec       *execution.Engine
	Portfolio  *portfolio.Portfolio
	Quotes     *market.QuoteStore
	Store      journal.PortfolioStore
	Journal    journal.Journal
	Telemetry  telemetry.Sink
	Log        logrus.FieldLogger
	Clock      Clock
}

type Driver struct {
	cfg Config
	Deps
	tf time.Duration

	// admission serializes risk evaluation, breaker check and Prepare so the
	// portfolio-wide counts each admission reads are current.
	admission sync.Mutex

	windows map[string]*market.PriceWindow

	mu   sync.Mutex
	done map[string]bool
}

func New(cfg Config, d Deps) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case d.Feed == nil, d.Classifier == nil, d.Ensemble == nil, d.Risk == nil,
		d.Breakers == nil, d.Exec == nil, d.Portfolio == nil, d.Store == nil:
		return nil, fmt.Errorf("pipeline: missing dependency")
	case len(d.Strategies) == 0:
		return nil, fmt.Errorf("pipeline: no strategies")
	}
	if d.Quotes == nil {
		d.Quotes = market.NewQuoteStore()
	}
	if d.Telemetry == nil {
		d.Telemetry = telemetry.Nop{}
	}
	if d.Log == nil {
		d.Log = logrus.New()
	}
	if d.Clock == nil {
		d.Clock = wallClock{}
	}
	d.Log = d.Log.WithField("stage", "pipeline")

	tf, _ := market.ParseTimeframe(cfg.Timeframe)
	drv := &Driver{
		cfg:     cfg,
		Deps:    d,
		tf:      tf,
		windows: make(map[string]*market.PriceWindow, len(cfg.Symbols)),
		done:    make(map[string]bool),
	}
	for _, s := range cfg.Symbols {
		drv.windows[s] = market.NewPriceWindow(s, cfg.Timeframe, cfg.WindowSize)
	}
	return drv, nil
}

// Window returns the price window of symbol. It must not be used while a
// cycle is running.
func (d *Driver) Window(symbol string) *market.PriceWindow {
	return d.windows[symbol]
}

// Run reconciles open orders and then runs cycles until ctx is cancelled or
// every replay feed is exhausted. Reconciliation and persistence faults end
// the loop with an error; in-flight orders stay in the store and are
// reconciled at the next start.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Exec.Reconcile(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if err := d.Store.SavePortfolio(context.WithoutCancel(ctx), d.Portfolio.State()); err != nil {
		return fmt.Errorf("%w: save portfolio: %v", execution.ErrPersist, err)
	}

	for {
		err := d.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrFeedsDone):
			d.Log.Info("feeds exhausted, stopping")
			return nil
		case ctx.Err() != nil:
			d.Log.Info("shutting down")
			return nil
		case err != nil:
			return err
		}

		if d.cfg.Interval > 0 {
			t := time.NewTimer(d.cfg.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				d.Log.Info("shutting down")
				return nil
			case <-t.C:
			}
		}
	}
}

// Escalated reports whether err must stop the trading loop.
func Escalated(err error) bool {
	return errors.Is(err, execution.ErrReconcile) || errors.Is(err, execution.ErrPersist)
}
