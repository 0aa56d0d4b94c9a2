package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/ensemble"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/feed"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/ratelimit"
	"github.com/rustyeddy/tradeguard/regime"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/strategy"
	"github.com/rustyeddy/tradeguard/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const cycleIDLayout = "20060102T150405Z"

// RunCycle runs one pass over every symbol:
//
//  1. in-flight orders from earlier cycles are driven forward
//  2. new bars are pulled for each symbol in parallel
//  3. correlations are computed across the updated windows
//  4. each symbol with a new bar is evaluated in parallel
//  5. the equity curve and portfolio are persisted
//
// Only escalation faults are returned; vetoes and failed orders are logged.
func (d *Driver) RunCycle(ctx context.Context) error {
	if err := d.Exec.Resume(ctx); err != nil {
		if Escalated(err) || ctx.Err() != nil {
			return err
		}
		d.Log.WithError(err).Warn("in-flight orders not settled")
	}

	fresh, err := d.ingestAll(ctx)
	if err != nil {
		return err
	}
	if d.allDone() {
		return ErrFeedsDone
	}
	if len(fresh) == 0 {
		return nil
	}

	d.Portfolio.RollDay(d.Clock.Now())

	closes := make(map[string][]float64, len(d.windows))
	for sym, w := range d.windows {
		closes[sym] = w.Closes()
	}
	corr := risk.NewCorrelations(closes, d.Risk.Policy().CorrLookback)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, sym := range d.cfg.Symbols {
		bars, ok := fresh[sym]
		if !ok {
			continue
		}
		g.Go(func() error {
			return d.decide(gctx, sym, bars, corr)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return d.checkpoint(ctx)
}

// ingestAll pulls new bars for every live symbol and returns the ones that
// produced at least one.
func (d *Driver) ingestAll(ctx context.Context) (map[string][]market.Candle, error) {
	var (
		mu    sync.Mutex
		fresh = make(map[string][]market.Candle)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, sym := range d.cfg.Symbols {
		if d.isDone(sym) {
			continue
		}
		g.Go(func() error {
			bars, err := d.ingest(gctx, sym)
			if err != nil || len(bars) == 0 {
				return err
			}
			mu.Lock()
			fresh[sym] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if a, ok := d.Clock.(advancer); ok {
		for _, bars := range fresh {
			a.Advance(bars[len(bars)-1].Time.Add(d.tf))
		}
	}
	return fresh, nil
}

func (d *Driver) ingest(ctx context.Context, sym string) ([]market.Candle, error) {
	log := d.Log.WithField("symbol", sym)

	bars, err := d.Feed.Next(ctx, sym)
	switch {
	case errors.Is(err, feed.ErrDone):
		d.mu.Lock()
		d.done[sym] = true
		d.mu.Unlock()
		log.Info("feed exhausted")
		return nil, nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Warn("feed error, skipping symbol this cycle")
		return nil, nil
	}

	w := d.windows[sym]
	added := bars[:0:0]
	for _, c := range bars {
		if err := w.Append(c); err != nil {
			log.WithError(err).Debug("bar dropped")
			continue
		}
		added = append(added, c)
	}
	if len(added) > 0 {
		last := added[len(added)-1]
		d.Quotes.SetCandle(sym, last)
		d.Portfolio.Mark(sym, last.Close)
	}
	return added, nil
}

func (d *Driver) isDone(sym string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done[sym]
}

func (d *Driver) allDone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.done) == len(d.cfg.Symbols)
}

// decide evaluates one symbol. Windows are read-only from here on.
func (d *Driver) decide(ctx context.Context, sym string, bars []market.Candle, corr risk.Correlations) error {
	w := d.windows[sym]
	last := bars[len(bars)-1]
	now := d.Clock.Now()
	cycleID := last.Time.UTC().Format(cycleIDLayout)
	log := d.Log.WithFields(logrus.Fields{"symbol": sym, "cycle_id": cycleID})
	rec := telemetry.Decision{Time: now, CycleID: cycleID, Symbol: sym}

	snap := d.Portfolio.Snapshot()
	if err := d.Breakers.Observe(ctx, sym, w, snap); err != nil {
		return fmt.Errorf("%w: breakers %s: %v", execution.ErrPersist, sym, err)
	}

	cls, err := d.Classifier.Classify(w)
	label := regime.OrFallback(cls, err)
	if err != nil {
		log.WithError(err).Debug("regime defaulted")
	}
	rec.Regime = label.String()

	signals := make([]strategy.Signal, 0, len(d.Strategies))
	for _, s := range d.Strategies {
		signals = append(signals, s.Signal(sym, w))
	}
	dir := d.Ensemble.Aggregate(sym, signals, label)
	rec.Direction = int(dir.Direction)
	rec.Confidence = dir.Confidence

	log = log.WithFields(logrus.Fields{"regime": label, "direction": dir.Direction, "confidence": dir.Confidence})

	if pos, ok := snap.Position(sym); ok {
		return d.manage(ctx, log, rec, pos, bars, dir)
	}

	if !dir.Actionable() {
		rec.Stage, rec.Reason = telemetry.StageEnsemble, string(dir.Hold)
		log.WithField("reason", dir.Hold).Debug("hold")
		d.record(ctx, log, rec)
		return nil
	}
	if d.Exec.InFlight(sym) {
		rec.Stage, rec.Reason = telemetry.StageExecution, "order in flight"
		d.record(ctx, log, rec)
		return nil
	}

	o, rec, err := d.admit(ctx, log, rec, w, dir, corr, cycleID, now)
	if err != nil || o.ClientOrderID == "" {
		d.record(ctx, log, rec)
		return err
	}

	_, err = d.Exec.Execute(ctx, o.ClientOrderID)
	d.record(ctx, log, rec)
	return d.settled(ctx, log, err)
}

// admit runs risk evaluation, the breaker check and Prepare as one critical
// section. A zero order means the entry was vetoed.
func (d *Driver) admit(ctx context.Context, log logrus.FieldLogger, rec telemetry.Decision, w *market.PriceWindow,
	dir ensemble.Directive, corr risk.Correlations, cycleID string, now time.Time) (execution.Order, telemetry.Decision, error) {
	d.admission.Lock()
	defer d.admission.Unlock()

	snap := d.Portfolio.Snapshot()
	rd := d.Risk.Evaluate(risk.Inputs{
		Directive:      dir,
		Snapshot:       snap,
		PendingEntries: d.Exec.PendingEntries(),
		Window:         w,
		Correlations:   corr,
		Now:            now,
	})
	if !rd.Allowed {
		rec.Stage, rec.Reason = telemetry.StageRisk, rd.Reason()
		log.WithFields(logrus.Fields{"reason": rd.Reason(), "detail": rd.Violations[0].Msg}).Info("entry vetoed by risk")
		return execution.Order{}, rec, nil
	}

	verdict, err := d.Breakers.Check(ctx, dir.Symbol, w, snap)
	if err != nil {
		rec.Stage, rec.Reason = telemetry.StageBreaker, "breaker persistence fault"
		return execution.Order{}, rec, fmt.Errorf("%w: breakers %s: %v", execution.ErrPersist, dir.Symbol, err)
	}
	if !verdict.Allowed {
		rec.Stage, rec.Reason = telemetry.StageBreaker, verdict.Reason()
		log.WithField("reason", verdict.Reason()).Info("entry vetoed by breaker")
		return execution.Order{}, rec, nil
	}

	reason := fmt.Sprintf("%s %s conf=%.2f", dir.Regime, dir.Direction, dir.Confidence)
	o, err := d.Exec.Prepare(ctx, rd.Order, d.cfg.StrategyID, execution.IntentOpen, cycleID, reason)
	if errors.Is(err, execution.ErrOrderInFlight) {
		rec.Stage, rec.Reason = telemetry.StageExecution, "order in flight"
		return execution.Order{}, rec, nil
	}
	if err != nil {
		rec.Stage, rec.Reason = telemetry.StageExecution, "prepare failed"
		return execution.Order{}, rec, err
	}

	rec.Stage, rec.Allowed, rec.Notional = telemetry.StageExecution, true, rd.Order.Notional
	log.WithFields(logrus.Fields{
		"client_order_id": o.ClientOrderID,
		"notional":        rd.Order.Notional,
		"kelly":           rd.KellyFraction,
		"vol_scale":       rd.VolScale,
		"corr_scale":      rd.CorrScale,
		"planned_risk":    rd.PlannedRisk,
	}).Info("entry admitted")
	return o, rec, nil
}

// manage handles a symbol with an open position: the protective stop and
// signal reversals close it. Exits bypass risk and breakers.
func (d *Driver) manage(ctx context.Context, log logrus.FieldLogger, rec telemetry.Decision, pos portfolio.Position,
	bars []market.Candle, dir ensemble.Directive) error {
	reason := ""
	for _, c := range bars {
		if pos.StopHit(c) {
			reason = "stop"
			break
		}
	}
	if reason == "" && dir.Actionable() && dir.Direction.Side() != pos.Side {
		reason = "reversal"
	}
	rec.Stage = telemetry.StageExit
	if reason == "" {
		rec.Reason = "holding"
		d.record(ctx, log, rec)
		return nil
	}
	if d.Exec.InFlight(pos.Symbol) {
		rec.Reason = "exit in flight"
		d.record(ctx, log, rec)
		return nil
	}

	last := bars[len(bars)-1]
	so := risk.SizedOrder{
		Symbol:   pos.Symbol,
		Side:     pos.Side.Opposite(),
		Quantity: pos.Quantity,
		Price:    last.Close,
		Notional: pos.Quantity * last.Close,
	}
	rec.Allowed, rec.Reason, rec.Notional = true, reason, so.Notional
	log = log.WithField("reason", reason)
	log.Info("closing position")

	o, err := d.Exec.Prepare(ctx, so, d.cfg.StrategyID+":exit", execution.IntentClose, rec.CycleID, reason)
	if errors.Is(err, execution.ErrOrderInFlight) {
		d.record(ctx, log, rec)
		return nil
	}
	if err != nil {
		d.record(ctx, log, rec)
		return err
	}
	_, err = d.Exec.Execute(ctx, o.ClientOrderID)
	d.record(ctx, log, rec)
	return d.settled(ctx, log, err)
}

// settled decides whether an execution error ends the loop. Everything
// except escalation faults is retried on a later cycle.
func (d *Driver) settled(ctx context.Context, log logrus.FieldLogger, err error) error {
	switch {
	case err == nil:
		return nil
	case Escalated(err):
		return err
	case errors.Is(err, execution.ErrFatalExecution):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ratelimit.ErrExhausted):
		log.WithError(err).Warn("rate limit exhausted, order left pending")
		return nil
	default:
		log.WithError(err).Warn("order not settled, resuming next cycle")
		return nil
	}
}

func (d *Driver) record(ctx context.Context, log logrus.FieldLogger, rec telemetry.Decision) {
	if err := d.Telemetry.RecordDecision(context.WithoutCancel(ctx), rec); err != nil {
		log.WithError(err).Warn("telemetry write failed")
	}
}

// checkpoint appends the equity curve and persists the portfolio.
func (d *Driver) checkpoint(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	snap := d.Portfolio.Snapshot()
	eq := journal.SnapshotOf(d.Clock.Now(), snap)

	if d.Journal != nil {
		if err := d.Journal.RecordEquity(ctx, eq); err != nil {
			return fmt.Errorf("%w: equity: %v", execution.ErrPersist, err)
		}
	}
	if err := d.Telemetry.RecordEquity(ctx, eq); err != nil {
		d.Log.WithError(err).Warn("telemetry write failed")
	}
	if err := d.Store.SavePortfolio(ctx, snap.State); err != nil {
		return fmt.Errorf("%w: save portfolio: %v", execution.ErrPersist, err)
	}

	d.Log.WithFields(logrus.Fields{
		"equity":    snap.Equity,
		"cash":      snap.Cash,
		"drawdown":  snap.Drawdown(),
		"daily_pnl": snap.DailyPnL,
		"positions": snap.OpenPositions,
	}).Info("cycle complete")
	return nil
}
