package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpillora/backoff"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/sirupsen/logrus"
)

// drive is the retry loop behind Execute, Resume and Reconcile. With verify
// set, a PENDING order that may already have been sent is looked up before
// any resubmission.
func (e *Engine) drive(ctx context.Context, key string, verify bool) (Order, error) {
	mu := e.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.load(ctx, key)
	if err != nil || o.State.Terminal() {
		return o, err
	}

	bo := &backoff.Backoff{
		Min:    e.cfg.BackoffMin,
		Max:    e.cfg.BackoffMax,
		Factor: e.cfg.BackoffFactor,
		Jitter: e.cfg.Jitter,
	}
	log := e.log.WithFields(logrus.Fields{"client_order_id": key, "symbol": o.Symbol})

	query := o.State == Submitted || (verify && o.Attempts > 0)
	queries := 0

	for {
		if query {
			if queries >= e.cfg.MaxAttempts {
				return o, fmt.Errorf("order %s status unknown after %d queries: %s", key, queries, o.LastError)
			}
			queries++

			if err := e.limiter.Acquire(ctx); err != nil {
				return o, err
			}
			rep, err := e.broker.GetOrder(ctx, o.Symbol, key)
			switch {
			case err == nil:
				err = e.apply(ctx, &o, rep)
				return o, err
			case errors.Is(err, broker.ErrOrderNotFound):
				log.Info("exchange does not know order, resubmitting")
				query = false
			case ctx.Err() != nil:
				return o, ctx.Err()
			case broker.IsRetryable(err):
				o.LastError = err.Error()
				log.WithError(err).Warn("order query failed, retrying")
				if err := e.sleep(ctx, bo.Duration()); err != nil {
					return o, err
				}
				continue
			default:
				return o, fmt.Errorf("query %s: %w", key, err)
			}
		}

		if o.Attempts >= e.cfg.MaxAttempts {
			err = e.fail(ctx, &o, fmt.Errorf("retry budget of %d attempts exhausted: %s", e.cfg.MaxAttempts, o.LastError))
			return o, err
		}
		if err := e.limiter.Acquire(ctx); err != nil {
			return o, err
		}

		o.Attempts++
		if err := e.save(ctx, &o); err != nil {
			return o, err
		}

		rep, err := e.broker.CreateOrder(ctx, broker.OrderRequest{
			ClientOrderID: key,
			Symbol:        o.Symbol,
			Side:          o.Side,
			Quantity:      o.Quantity,
		})
		switch {
		case err == nil:
			err = e.apply(ctx, &o, rep)
			return o, err

		case errors.Is(err, broker.ErrDuplicateOrder):
			// The exchange already has this key; adopt its state.
			o.LastError = err.Error()
			if err := e.toSubmitted(ctx, &o); err != nil {
				return o, err
			}
			query = true

		case broker.IsAmbiguous(err) || ctx.Err() != nil:
			// The request may have landed. Never resend without asking.
			o.LastError = err.Error()
			if err := e.toSubmitted(ctx, &o); err != nil {
				return o, err
			}
			log.WithError(err).Warn("order submission outcome unknown")
			if ctx.Err() != nil {
				return o, ctx.Err()
			}
			if err := e.sleep(ctx, bo.Duration()); err != nil {
				return o, err
			}
			query = true

		case broker.IsRetryable(err):
			o.LastError = err.Error()
			if err := e.save(ctx, &o); err != nil {
				return o, err
			}
			log.WithError(err).WithField("attempt", o.Attempts).Warn("order submission failed, retrying")
			if err := e.sleep(ctx, bo.Duration()); err != nil {
				return o, err
			}

		default:
			err = e.fail(ctx, &o, err)
			return o, err
		}
	}
}

func (e *Engine) toSubmitted(ctx context.Context, o *Order) error {
	if err := o.transition(Submitted, e.now()); err != nil {
		return err
	}
	return e.save(ctx, o)
}

// apply moves o to the state described by an exchange report. Any report
// proves the exchange holds the order, so a PENDING order is recorded as
// SUBMITTED before anything else.
func (e *Engine) apply(ctx context.Context, o *Order, rep broker.OrderReport) error {
	if o.State == Pending {
		if err := e.toSubmitted(ctx, o); err != nil {
			return err
		}
	}
	if rep.ExchangeOrderID != "" {
		o.ExchangeOrderID = rep.ExchangeOrderID
	}
	o.FilledQty = rep.FilledQty
	o.AvgPrice = rep.AvgPrice
	o.Fee = rep.Fee

	switch rep.Status {
	case broker.StatusFilled:
		return e.fill(ctx, o)
	case broker.StatusCanceled, broker.StatusExpired:
		if rep.FilledQty > 0 {
			return e.fill(ctx, o)
		}
		if err := o.transition(Cancelled, e.now()); err != nil {
			return err
		}
		return e.save(ctx, o)
	case broker.StatusRejected:
		return e.fail(ctx, o, fmt.Errorf("exchange status %s: %w", rep.Status, broker.ErrRejected))
	default:
		return e.save(ctx, o)
	}
}

// fill is the single transition into FILLED. The order and the portfolio it
// changes are written together; when that write fails both are rolled back
// in memory and the order stays SUBMITTED, so a later query applies the fill
// exactly once.
func (e *Engine) fill(ctx context.Context, o *Order) error {
	e.fillMu.Lock()
	defer e.fillMu.Unlock()

	before := *o
	if err := o.transition(Filled, e.now()); err != nil {
		return err
	}

	log := e.log.WithFields(logrus.Fields{
		"client_order_id": o.ClientOrderID,
		"symbol":          o.Symbol,
		"intent":          o.Intent,
		"qty":             o.FilledQty,
		"price":           o.AvgPrice,
	})

	f := portfolio.Fill{
		Symbol:    o.Symbol,
		Strategy:  o.Strategy,
		Side:      o.Side,
		Quantity:  o.FilledQty,
		Price:     o.AvgPrice,
		Fee:       o.Fee,
		StopPrice: o.StopPrice,
		Time:      o.UpdatedAt,
		Reason:    o.Reason,
	}

	prev := e.pf.State()
	var (
		out      portfolio.TradeOutcome
		applyErr error
	)
	if o.Intent == IntentOpen {
		applyErr = e.pf.Open(f)
	} else {
		out, applyErr = e.pf.Close(f)
	}
	if applyErr != nil {
		// The exchange filled it regardless; record that and stop.
		if err := e.save(ctx, o); err != nil {
			return err
		}
		log.WithError(applyErr).WithField("operator_attention", true).Error("filled order could not be applied")
		return fmt.Errorf("apply fill %s: %w", o.ClientOrderID, applyErr)
	}

	if err := e.saveFill(ctx, o); err != nil {
		e.pf.Reset(prev)
		*o = before
		log.WithError(err).Error("fill not persisted, rolled back")
		return err
	}
	log.Info("order filled")

	if o.Intent == IntentOpen {
		return nil
	}
	log.WithField("pnl", out.PnL).Info("trade closed")

	ctx = context.WithoutCancel(ctx)
	var errs []error
	if e.outcomes != nil {
		if err := e.outcomes.RecordOutcome(ctx, out.Symbol, out.PnL); err != nil {
			errs = append(errs, err)
		}
	}
	if e.trades != nil {
		if err := e.trades.RecordTrade(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: record outcome %s: %v", ErrPersist, o.ClientOrderID, err)
	}
	return nil
}

func (e *Engine) saveFill(ctx context.Context, o *Order) error {
	if e.fills == nil {
		return e.save(ctx, o)
	}
	o.UpdatedAt = e.now()
	if err := e.fills.SaveFill(context.WithoutCancel(ctx), *o, e.pf.State()); err != nil {
		return fmt.Errorf("%w: save fill %s: %v", ErrPersist, o.ClientOrderID, err)
	}
	e.track(*o)
	return nil
}

func (e *Engine) fail(ctx context.Context, o *Order, cause error) error {
	o.LastError = cause.Error()
	if err := o.transition(Failed, e.now()); err != nil {
		return err
	}
	if err := e.save(ctx, o); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"client_order_id":    o.ClientOrderID,
		"symbol":             o.Symbol,
		"attempts":           o.Attempts,
		"operator_attention": true,
	}).WithError(cause).Error("order failed")
	return fmt.Errorf("%w: %s: %v", ErrFatalExecution, o.ClientOrderID, cause)
}
