// Package broker defines the exchange boundary used by the execution engine.
// Orders are always keyed by a caller-chosen client order ID so a request
// can be queried or retried without creating a duplicate.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

type Broker interface {
	CreateOrder(ctx context.Context, req OrderRequest) (OrderReport, error)
	GetOrder(ctx context.Context, symbol, clientOrderID string) (OrderReport, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (OrderReport, error)
}

var (
	ErrDuplicateOrder      = errors.New("duplicate client order id")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrRejected            = errors.New("order rejected")
	ErrRateLimited         = errors.New("exchange rate limit")
	ErrTimeout             = errors.New("exchange timeout")
	ErrTransient           = errors.New("transient exchange error")
)

// IsRetryable reports whether the same request may be sent again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// IsAmbiguous reports whether the request may or may not have reached the
// exchange. The order state must be queried before any resubmission.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrTimeout)
}

type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// Terminal reports whether the exchange will not change the order further.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest is a market order.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          market.Side
	Quantity      float64
}

type OrderReport struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            market.Side
	Status          Status
	RequestedQty    float64
	FilledQty       float64
	AvgPrice        float64
	Fee             float64
	UpdatedAt       time.Time
}
