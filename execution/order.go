package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrOrderInFlight     = errors.New("order already in flight")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrFatalExecution    = errors.New("fatal execution error")
	ErrReconcile         = errors.New("reconciliation failed")
	ErrPersist           = errors.New("order persistence failed")
)

type State string

const (
	Pending   State = "PENDING"
	Submitted State = "SUBMITTED"
	Filled    State = "FILLED"
	Cancelled State = "CANCELLED"
	Failed    State = "FAILED"
)

var transitions = map[State][]State{
	Pending:   {Submitted, Cancelled, Failed},
	Submitted: {Filled, Cancelled, Failed},
}

func (s State) Terminal() bool {
	return s == Filled || s == Cancelled || s == Failed
}

func (s State) CanTransition(to State) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case Pending, Submitted, Filled, Cancelled, Failed:
		return st, nil
	}
	return "", fmt.Errorf("unknown order state %q", s)
}

// Intent says whether an order opens or closes a position.
type Intent string

const (
	IntentOpen  Intent = "open"
	IntentClose Intent = "close"
)

type Order struct {
	ClientOrderID   string      `json:"client_order_id"`
	Symbol          string      `json:"symbol"`
	Strategy        string      `json:"strategy"`
	Intent          Intent      `json:"intent"`
	Side            market.Side `json:"side"`
	Quantity        float64     `json:"quantity"`
	StopPrice       float64     `json:"stop_price"`
	Notional        float64     `json:"notional"`
	Reason          string      `json:"reason"`
	State           State       `json:"state"`
	ExchangeOrderID string      `json:"exchange_order_id"`
	FilledQty       float64     `json:"filled_qty"`
	AvgPrice        float64     `json:"avg_price"`
	Fee             float64     `json:"fee"`
	Attempts        int         `json:"attempts"`
	LastError       string      `json:"last_error"`
	CycleID         string      `json:"cycle_id"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (o *Order) transition(to State, now time.Time) error {
	if o.State == to {
		return nil
	}
	if !o.State.CanTransition(to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, o.ClientOrderID, o.State, to)
	}
	o.State = to
	o.UpdatedAt = now
	return nil
}
