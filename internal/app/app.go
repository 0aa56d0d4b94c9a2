// Package app assembles a trading process from a validated config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/broker/binance"
	"github.com/rustyeddy/tradeguard/broker/sim"
	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/ensemble"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/feed"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/journal/postgres"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pipeline"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/ratelimit"
	"github.com/rustyeddy/tradeguard/regime"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/strategy"
	"github.com/rustyeddy/tradeguard/telemetry"
	"github.com/sirupsen/logrus"
)

// App is a fully wired trading process.
type App struct {
	Config    *config.Config
	Store     journal.Store
	Bank      *breaker.Bank
	Exec      *execution.Engine
	Portfolio *portfolio.Portfolio
	Driver    *pipeline.Driver

	log     logrus.FieldLogger
	bn      *binance.Client
	closers []io.Closer
}

// OpenStore opens the configured durable store.
func OpenStore(cfg *config.Config) (journal.Store, error) {
	switch cfg.Journal.Driver {
	case config.DriverPostgres:
		return postgres.Open(cfg.Journal.Postgres.Option())
	case config.DriverSQLite:
		return journal.NewSQLite(cfg.Journal.DBPath)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Journal.Driver)
	}
}

// Strategies builds the enabled strategies in config order.
func Strategies(cfg *config.Config) ([]strategy.Strategy, error) {
	var out []strategy.Strategy
	for _, sc := range cfg.EnabledStrategies() {
		s, err := strategy.New(sc.Name, sc.Params)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Build wires every component. Paper mode replays CSV bars (or polls
// Binance klines) against the simulated exchange; live mode routes orders to
// Binance. Persisted breaker and portfolio state is restored before the
// driver is returned.
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (a *App, err error) {
	a = &App{Config: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	store, err := OpenStore(cfg)
	if err != nil {
		return a, fmt.Errorf("open store: %w", err)
	}
	a.Store = store

	durable := journal.Tee{store}
	if cfg.Journal.TradesFile != "" {
		csvj, err := journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
		if err != nil {
			_ = store.Close()
			return a, fmt.Errorf("open csv journal: %w", err)
		}
		durable = append(durable, csvj)
	}
	a.closers = append(a.closers, durable)

	var sink telemetry.Sink = telemetry.Nop{}
	if cfg.Telemetry.Influx.Enabled {
		infl, err := telemetry.NewInflux(ctx, cfg.Telemetry.Influx.Influx())
		if err != nil {
			return a, fmt.Errorf("connect influx: %w", err)
		}
		sink = infl
		a.closers = append(a.closers, infl)
	}

	quotes := market.NewQuoteStore()
	fd, clock, err := a.buildFeed()
	if err != nil {
		return a, err
	}

	now := time.Now
	if clock != nil {
		now = clock.Now
	}

	ex, err := a.buildBroker(quotes, now)
	if err != nil {
		return a, err
	}

	a.Bank = breaker.NewBank(cfg.Breakers.Breaker(), store, log, breaker.WithClock(now))
	if err := a.Bank.Load(ctx); err != nil {
		return a, fmt.Errorf("load breakers: %w", err)
	}

	st, ok, err := store.LoadPortfolio(ctx)
	if err != nil {
		return a, fmt.Errorf("load portfolio: %w", err)
	}
	if ok {
		a.Portfolio = portfolio.Restore(st)
		log.WithField("cash", st.Cash).Info("portfolio restored")
	} else {
		a.Portfolio = portfolio.New(cfg.Account.Balance, now())
	}

	a.Exec = execution.NewEngine(cfg.Execution.Execution(), ex, ratelimit.New(cfg.RateLimit.RateLimit()), store, a.Portfolio, log,
		execution.WithClock(now),
		execution.WithOutcomes(a.Bank),
		execution.WithTrades(&tradeLog{durable: durable, sink: sink, log: log}),
		execution.WithFillStore(store),
	)

	strats, err := Strategies(cfg)
	if err != nil {
		return a, err
	}

	deps := pipeline.Deps{
		Feed:       fd,
		Classifier: regime.NewClassifier(cfg.Regime),
		Strategies: strats,
		Ensemble:   ensemble.FromStrategies(cfg.Ensemble.Config, strats, cfg.Ensemble.Affinities),
		Risk:       risk.NewManager(cfg.Risk.Policy(cfg.Timeframe())),
		Breakers:   a.Bank,
		Exec:       a.Exec,
		Portfolio:  a.Portfolio,
		Quotes:     quotes,
		Store:      store,
		Journal:    durable,
		Telemetry:  sink,
		Log:        log,
	}
	// A nil *ReplayClock must not become a non-nil Clock.
	if clock != nil {
		deps.Clock = clock
	}
	a.Driver, err = pipeline.New(cfg.Pipeline.Pipeline(), deps)
	if err != nil {
		return a, err
	}
	return a, nil
}

// buildFeed returns the bar source and, for CSV replay, the clock that
// follows it.
func (a *App) buildFeed() (feed.Feed, *feed.ReplayClock, error) {
	cfg := a.Config
	switch cfg.Feed.Source {
	case config.FeedCSV:
		fd, err := feed.NewCSV(cfg.Feed.Dir, cfg.Pipeline.Symbols, cfg.Feed.Warmup)
		if err != nil {
			return nil, nil, fmt.Errorf("open csv feed: %w", err)
		}
		return fd, feed.NewReplayClock(time.Time{}), nil
	case config.FeedBinance:
		c, err := a.binance()
		if err != nil {
			return nil, nil, err
		}
		return feed.NewBinance(c, cfg.Pipeline.Timeframe, cfg.Feed.KlineLimit), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}

func (a *App) buildBroker(quotes *market.QuoteStore, now func() time.Time) (broker.Broker, error) {
	cfg := a.Config
	if cfg.Mode == config.ModeLive {
		a.log.WithField("testnet", cfg.Binance.Testnet).Warn("live mode: orders go to binance")
		return a.binance()
	}
	ex, err := sim.NewEngine(cfg.Sim.Sim(), quotes)
	if err != nil {
		return nil, fmt.Errorf("sim exchange: %w", err)
	}
	ex.SetClock(now)
	return ex, nil
}

// binance shares one client between the feed and the broker.
func (a *App) binance() (*binance.Client, error) {
	if a.bn == nil {
		c, err := binance.New(a.Config.Binance.Binance())
		if err != nil {
			return nil, err
		}
		a.bn = c
	}
	return a.bn, nil
}

// Run drives the pipeline until the feeds end, ctx is cancelled or an
// escalated fault stops it.
func (a *App) Run(ctx context.Context) error {
	return a.Driver.Run(ctx)
}

// Close releases the store, journals and telemetry.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// tradeLog writes closed trades to the durable journals. Telemetry is best
// effort and never fails a fill.
type tradeLog struct {
	durable journal.Journal
	sink    telemetry.Sink
	log     logrus.FieldLogger
}

func (t *tradeLog) RecordTrade(ctx context.Context, tr portfolio.TradeOutcome) error {
	if err := t.sink.RecordTrade(context.WithoutCancel(ctx), tr); err != nil {
		t.log.WithError(err).WithField("symbol", tr.Symbol).Warn("telemetry trade write failed")
	}
	return t.durable.RecordTrade(ctx, tr)
}
