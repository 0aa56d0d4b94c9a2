// Package sim is a paper exchange. It fills market orders at the latest
// close with a basis-point slippage model, honors client order IDs exactly
// like the live broker, and can inject faults for tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/shopspring/decimal"
)

type Config struct {
	SlippageBps float64
	FeeBps      float64
	// LotStep is the quantity increment. Requests are rounded down to it.
	LotStep string
	// HoldFills leaves new orders resting until Match is called.
	HoldFills bool
}

func DefaultConfig() Config {
	return Config{SlippageBps: 5, FeeBps: 10, LotStep: "0.00001"}
}

type Op string

const (
	OpCreate Op = "create"
	OpGet    Op = "get"
	OpCancel Op = "cancel"
)

// Fault is a scripted failure for the next call of an operation.
type Fault int

const (
	// FaultTimeoutLanded records the order and then reports a timeout.
	FaultTimeoutLanded Fault = iota + 1
	// FaultTimeoutLost reports a timeout without recording the order.
	FaultTimeoutLost
	FaultTransient
	FaultRateLimited
	FaultInsufficientBalance
	FaultRejected
)

func (f Fault) err() error {
	switch f {
	case FaultTimeoutLanded, FaultTimeoutLost:
		return broker.ErrTimeout
	case FaultTransient:
		return broker.ErrTransient
	case FaultRateLimited:
		return broker.ErrRateLimited
	case FaultInsufficientBalance:
		return broker.ErrInsufficientBalance
	case FaultRejected:
		return broker.ErrRejected
	}
	return nil
}

type Engine struct {
	mu     sync.Mutex
	cfg    Config
	step   decimal.Decimal
	quotes *market.QuoteStore
	orders map[string]*broker.OrderReport
	faults map[Op][]Fault
	calls  map[Op]int
	now    func() time.Time
}

func NewEngine(cfg Config, quotes *market.QuoteStore) (*Engine, error) {
	step, err := decimal.NewFromString(cfg.LotStep)
	if err != nil || !step.IsPositive() {
		return nil, fmt.Errorf("sim: invalid lot step %q", cfg.LotStep)
	}
	if quotes == nil {
		quotes = market.NewQuoteStore()
	}
	return &Engine{
		cfg:    cfg,
		step:   step,
		quotes: quotes,
		orders: make(map[string]*broker.OrderReport),
		faults: make(map[Op][]Fault),
		calls:  make(map[Op]int),
		now:    time.Now,
	}, nil
}

// SetClock replaces the time source used to stamp reports.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) Quotes() *market.QuoteStore {
	return e.quotes
}

// InjectFault queues f for the next call of op. Faults fire in order.
func (e *Engine) InjectFault(op Op, f Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = append(e.faults[op], f)
}

// Calls returns how many times op was invoked, faults included.
func (e *Engine) Calls(op Op) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

func (e *Engine) nextFault(op Op) Fault {
	e.calls[op]++
	q := e.faults[op]
	if len(q) == 0 {
		return 0
	}
	e.faults[op] = q[1:]
	return q[0]
}

// RoundLot rounds qty down to the lot step.
func (e *Engine) RoundLot(qty float64) float64 {
	d := decimal.NewFromFloat(qty).Div(e.step).Floor().Mul(e.step)
	f, _ := d.Float64()
	return f
}

func (e *Engine) CreateOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderReport, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderReport{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fault := e.nextFault(OpCreate)
	if fault != 0 && fault != FaultTimeoutLanded {
		return broker.OrderReport{}, fmt.Errorf("sim create %s: %w", req.ClientOrderID, fault.err())
	}

	if _, ok := e.orders[req.ClientOrderID]; ok {
		return broker.OrderReport{}, fmt.Errorf("sim create %s: %w", req.ClientOrderID, broker.ErrDuplicateOrder)
	}

	rep, err := e.open(req)
	if err != nil {
		return broker.OrderReport{}, err
	}
	e.orders[req.ClientOrderID] = &rep

	if fault == FaultTimeoutLanded {
		return broker.OrderReport{}, fmt.Errorf("sim create %s: %w", req.ClientOrderID, broker.ErrTimeout)
	}
	return rep, nil
}

func (e *Engine) open(req broker.OrderRequest) (broker.OrderReport, error) {
	q, err := e.quotes.Get(req.Symbol)
	if err != nil {
		return broker.OrderReport{}, fmt.Errorf("sim create %s: %w", req.Symbol, broker.ErrInvalidSymbol)
	}
	qty := e.RoundLot(req.Quantity)
	if qty <= 0 {
		return broker.OrderReport{}, fmt.Errorf("sim create %s: quantity %g below lot step %s: %w",
			req.ClientOrderID, req.Quantity, e.step, broker.ErrRejected)
	}

	rep := broker.OrderReport{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: id.New(),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          broker.StatusNew,
		RequestedQty:    qty,
		UpdatedAt:       e.now(),
	}
	if !e.cfg.HoldFills {
		e.fill(&rep, q.Price)
	}
	return rep, nil
}

func (e *Engine) fill(rep *broker.OrderReport, last float64) {
	price := last * (1 + rep.Side.Sign()*e.cfg.SlippageBps/10_000)
	rep.Status = broker.StatusFilled
	rep.FilledQty = rep.RequestedQty
	rep.AvgPrice = price
	rep.Fee = rep.FilledQty * price * e.cfg.FeeBps / 10_000
	rep.UpdatedAt = e.now()
}

// Match fills every resting order at the current quotes.
func (e *Engine) Match() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, rep := range e.orders {
		if rep.Status != broker.StatusNew {
			continue
		}
		q, err := e.quotes.Get(rep.Symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.fill(rep, q.Price)
	}
	return errors.Join(errs...)
}

func (e *Engine) GetOrder(ctx context.Context, symbol, clientOrderID string) (broker.OrderReport, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderReport{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if f := e.nextFault(OpGet); f != 0 {
		return broker.OrderReport{}, fmt.Errorf("sim get %s: %w", clientOrderID, f.err())
	}
	rep, ok := e.orders[clientOrderID]
	if !ok || rep.Symbol != symbol {
		return broker.OrderReport{}, fmt.Errorf("sim get %s: %w", clientOrderID, broker.ErrOrderNotFound)
	}
	return *rep, nil
}

// CancelOrder cancels a resting order. Orders that already reached a
// terminal state are returned unchanged.
func (e *Engine) CancelOrder(ctx context.Context, symbol, clientOrderID string) (broker.OrderReport, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderReport{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if f := e.nextFault(OpCancel); f != 0 {
		return broker.OrderReport{}, fmt.Errorf("sim cancel %s: %w", clientOrderID, f.err())
	}
	rep, ok := e.orders[clientOrderID]
	if !ok || rep.Symbol != symbol {
		return broker.OrderReport{}, fmt.Errorf("sim cancel %s: %w", clientOrderID, broker.ErrOrderNotFound)
	}
	if !rep.Status.Terminal() {
		rep.Status = broker.StatusCanceled
		rep.UpdatedAt = e.now()
	}
	return *rep, nil
}

// Orders lists every order the engine has accepted, by client order ID.
func (e *Engine) Orders() []broker.OrderReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]broker.OrderReport, 0, len(e.orders))
	for _, r := range e.orders {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientOrderID < out[j].ClientOrderID })
	return out
}
