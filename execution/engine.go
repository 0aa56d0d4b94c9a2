// Package execution drives orders through PENDING -> SUBMITTED ->
// {FILLED, CANCELLED, FAILED}. Every order is keyed by a deterministic client
// order ID and persisted before any network call, so a crash or timeout can
// always be resolved by asking the exchange about that key.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/sirupsen/logrus"
)

// Store persists orders. GetOrder returns an error wrapping ErrUnknownOrder
// when the key has never been saved.
type Store interface {
	SaveOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, clientOrderID string) (Order, error)
	OpenOrders(ctx context.Context) ([]Order, error)
}

type Limiter interface {
	Acquire(ctx context.Context) error
}

// OutcomeRecorder receives realized trade results, typically the breaker
// bank's consecutive-loss layer.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, symbol string, pnl float64) error
}

type TradeRecorder interface {
	RecordTrade(ctx context.Context, t portfolio.TradeOutcome) error
}

// FillStore writes a filled order together with the portfolio state it
// produced. Both land or neither does.
type FillStore interface {
	SaveFill(ctx context.Context, o Order, st portfolio.State) error
}

type Config struct {
	MaxAttempts   int           // 5
	BackoffMin    time.Duration // 250ms
	BackoffMax    time.Duration // 10s
	BackoffFactor float64       // 2
	Jitter        bool
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		BackoffMin:    250 * time.Millisecond,
		BackoffMax:    10 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("execution.max_attempts must be at least 1")
	}
	if c.BackoffMin <= 0 || c.BackoffMax < c.BackoffMin || c.BackoffFactor < 1 {
		return fmt.Errorf("execution backoff needs 0 < min <= max and factor >= 1")
	}
	return nil
}

type Engine struct {
	cfg      Config
	broker   broker.Broker
	limiter  Limiter
	store    Store
	pf       *portfolio.Portfolio
	outcomes OutcomeRecorder
	trades   TradeRecorder
	fills    FillStore
	log      logrus.FieldLogger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	fillMu sync.Mutex // serializes portfolio application with its write
	mu     sync.Mutex
	open   map[string]Order // non-terminal orders by client order ID
	keyMus map[string]*sync.Mutex
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func WithOutcomes(r OutcomeRecorder) Option {
	return func(e *Engine) { e.outcomes = r }
}

func WithTrades(r TradeRecorder) Option {
	return func(e *Engine) { e.trades = r }
}

// WithFillStore makes fills durable together with the portfolio. Without
// it only the order is saved.
func WithFillStore(s FillStore) Option {
	return func(e *Engine) { e.fills = s }
}

func NewEngine(cfg Config, b broker.Broker, lim Limiter, store Store, pf *portfolio.Portfolio, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		broker:  b,
		limiter: lim,
		store:   store,
		pf:      pf,
		log:     log.WithField("stage", "execution"),
		now:     time.Now,
		sleep:   sleepCtx,
		open:    make(map[string]Order),
		keyMus:  make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Prepare records a PENDING order for so under its deterministic key. A key
// that already exists is returned unchanged. A second non-terminal order
// for the same (symbol, strategy) is refused with ErrOrderInFlight.
func (e *Engine) Prepare(ctx context.Context, so risk.SizedOrder, strategy string, intent Intent, cycleID, reason string) (Order, error) {
	key := id.ClientOrderID(so.Symbol, strategy, cycleID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if o, ok := e.open[key]; ok {
		return o, nil
	}
	o, err := e.store.GetOrder(ctx, key)
	switch {
	case err == nil:
		if !o.State.Terminal() {
			e.open[key] = o
		}
		return o, nil
	case !errors.Is(err, ErrUnknownOrder):
		return Order{}, fmt.Errorf("%w: lookup %s: %v", ErrPersist, key, err)
	}

	for _, other := range e.open {
		if other.Symbol == so.Symbol && other.Strategy == strategy {
			return Order{}, fmt.Errorf("%w: %s/%s has %s in state %s",
				ErrOrderInFlight, so.Symbol, strategy, other.ClientOrderID, other.State)
		}
	}

	now := e.now()
	o = Order{
		ClientOrderID: key,
		Symbol:        so.Symbol,
		Strategy:      strategy,
		Intent:        intent,
		Side:          so.Side,
		Quantity:      so.Quantity,
		StopPrice:     so.StopPrice,
		Notional:      so.Notional,
		Reason:        reason,
		State:         Pending,
		CycleID:       cycleID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.SaveOrder(context.WithoutCancel(ctx), o); err != nil {
		return Order{}, fmt.Errorf("%w: save %s: %v", ErrPersist, key, err)
	}
	e.open[key] = o

	e.log.WithFields(logrus.Fields{
		"client_order_id": key,
		"symbol":          o.Symbol,
		"strategy":        strategy,
		"intent":          intent,
		"side":            o.Side,
		"quantity":        o.Quantity,
	}).Info("order prepared")
	return o, nil
}

// Submit prepares and executes an order.
func (e *Engine) Submit(ctx context.Context, so risk.SizedOrder, strategy string, intent Intent, cycleID, reason string) (Order, error) {
	o, err := e.Prepare(ctx, so, strategy, intent, cycleID, reason)
	if err != nil {
		return o, err
	}
	return e.Execute(ctx, o.ClientOrderID)
}

// Execute drives the order to a terminal state or until the exchange
// reports it resting. Limiter exhaustion leaves the order PENDING.
func (e *Engine) Execute(ctx context.Context, key string) (Order, error) {
	return e.drive(ctx, key, false)
}

// Resume drives every order still in flight. It runs at the start of each
// cycle.
func (e *Engine) Resume(ctx context.Context) error {
	var errs []error
	for _, o := range e.OpenOrders() {
		if _, err := e.drive(ctx, o.ClientOrderID, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reconcile loads every non-terminal order from the store and moves it to
// the exchange's authoritative state. Keys the exchange does not know are
// resubmitted under the same key. Persistence faults and orders whose state
// cannot be determined are returned wrapped in ErrReconcile. Orders that
// fail outright are logged and do not stop reconciliation.
func (e *Engine) Reconcile(ctx context.Context) error {
	orders, err := e.store.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("%w: load open orders: %v", ErrReconcile, err)
	}

	e.mu.Lock()
	for _, o := range orders {
		e.open[o.ClientOrderID] = o
	}
	e.mu.Unlock()

	var errs []error
	for _, o := range orders {
		got, err := e.drive(ctx, o.ClientOrderID, true)
		switch {
		case err == nil:
			e.log.WithFields(logrus.Fields{
				"client_order_id": o.ClientOrderID,
				"from":            o.State,
				"to":              got.State,
			}).Info("order reconciled")
		case errors.Is(err, ErrFatalExecution):
			// already logged with operator attention
		default:
			errs = append(errs, fmt.Errorf("%s: %w", o.ClientOrderID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrReconcile, errors.Join(errs...))
	}
	return nil
}

// Cancel cancels an order that has not reached a terminal state. A PENDING
// order is cancelled locally. A SUBMITTED order is cancelled on the exchange,
// and if it filled first the fill is applied instead.
func (e *Engine) Cancel(ctx context.Context, key string) (Order, error) {
	mu := e.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.load(ctx, key)
	if err != nil {
		return o, err
	}
	if o.State.Terminal() {
		return o, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, key, o.State)
	}

	if o.State == Pending && o.Attempts == 0 {
		if err := o.transition(Cancelled, e.now()); err != nil {
			return o, err
		}
		err = e.save(ctx, &o)
		return o, err
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		return o, err
	}
	rep, err := e.broker.CancelOrder(ctx, o.Symbol, key)
	switch {
	case errors.Is(err, broker.ErrOrderNotFound):
		o.LastError = err.Error()
		if err := o.transition(Cancelled, e.now()); err != nil {
			return o, err
		}
		err = e.save(ctx, &o)
		return o, err
	case err != nil:
		return o, fmt.Errorf("cancel %s: %w", key, err)
	}
	err = e.apply(ctx, &o, rep)
	return o, err
}

// OpenOrders lists the non-terminal orders, oldest first.
func (e *Engine) OpenOrders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.open))
	for _, o := range e.open {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ClientOrderID < out[j].ClientOrderID
	})
	return out
}

// PendingEntries counts in-flight orders that will open a position.
func (e *Engine) PendingEntries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.open {
		if o.Intent == IntentOpen {
			n++
		}
	}
	return n
}

// InFlight reports whether symbol has any non-terminal order.
func (e *Engine) InFlight(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.open {
		if o.Symbol == symbol {
			return true
		}
	}
	return false
}

func (e *Engine) keyLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.keyMus[key]
	if !ok {
		mu = &sync.Mutex{}
		e.keyMus[key] = mu
	}
	return mu
}

func (e *Engine) load(ctx context.Context, key string) (Order, error) {
	e.mu.Lock()
	o, ok := e.open[key]
	e.mu.Unlock()
	if ok {
		return o, nil
	}
	o, err := e.store.GetOrder(ctx, key)
	if err != nil {
		if errors.Is(err, ErrUnknownOrder) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("%w: load %s: %v", ErrPersist, key, err)
	}
	return o, nil
}

// save persists o, ignoring cancellation, and keeps the in-flight set in
// step with it.
func (e *Engine) save(ctx context.Context, o *Order) error {
	o.UpdatedAt = e.now()
	if err := e.store.SaveOrder(context.WithoutCancel(ctx), *o); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrPersist, o.ClientOrderID, err)
	}
	e.track(*o)
	return nil
}

// track mirrors a saved order into the in-flight index.
func (e *Engine) track(o Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o.State.Terminal() {
		delete(e.open, o.ClientOrderID)
		delete(e.keyMus, o.ClientOrderID)
	} else {
		e.open[o.ClientOrderID] = o
	}
}
