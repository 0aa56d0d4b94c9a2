// Package binance adapts the Binance spot REST API to broker.Broker. Every
// order carries newClientOrderId so it can be looked up after a timeout.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	bn "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/shopspring/decimal"
)

type Config struct {
	APIKey     string
	SecretKey  string
	Testnet    bool
	LotStep    string
	QuoteAsset string
}

type Client struct {
	api   *bn.Client
	cfg   Config
	step  decimal.Decimal
	quote string
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("binance: api key and secret are required")
	}
	return newClient(cfg)
}

// NewPublic returns a client limited to public market data. Order calls
// fail with an authentication error.
func NewPublic(testnet bool) *Client {
	c, _ := newClient(Config{Testnet: testnet, LotStep: "1"})
	return c
}

func newClient(cfg Config) (*Client, error) {
	step, err := decimal.NewFromString(cfg.LotStep)
	if err != nil || !step.IsPositive() {
		return nil, fmt.Errorf("binance: invalid lot step %q", cfg.LotStep)
	}
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}

	// The endpoint is chosen when the client is built.
	bn.UseTestnet = cfg.Testnet
	return &Client{
		api:   bn.NewClient(cfg.APIKey, cfg.SecretKey),
		cfg:   cfg,
		step:  step,
		quote: quote,
	}, nil
}

func (c *Client) quantity(q float64) string {
	return decimal.NewFromFloat(q).Div(c.step).Floor().Mul(c.step).String()
}

func (c *Client) CreateOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderReport, error) {
	qty := c.quantity(req.Quantity)
	if qty == "0" {
		return broker.OrderReport{}, fmt.Errorf("binance create %s: quantity %g below lot step: %w",
			req.ClientOrderID, req.Quantity, broker.ErrRejected)
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side)).
		Type(bn.OrderTypeMarket).
		Quantity(qty).
		NewClientOrderID(req.ClientOrderID).
		NewOrderRespType(bn.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return broker.OrderReport{}, fmt.Errorf("binance create %s: %w", req.ClientOrderID, classifyCreate(err))
	}
	return c.fromCreate(res), nil
}

func (c *Client) GetOrder(ctx context.Context, symbol, clientOrderID string) (broker.OrderReport, error) {
	o, err := c.api.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return broker.OrderReport{}, fmt.Errorf("binance get %s: %w", clientOrderID, classify(err))
	}
	return fromOrder(o), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) (broker.OrderReport, error) {
	_, err := c.api.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		cerr := classify(err)
		// Already terminal: report what the exchange has.
		if !errors.Is(cerr, broker.ErrOrderNotFound) {
			return broker.OrderReport{}, fmt.Errorf("binance cancel %s: %w", clientOrderID, cerr)
		}
	}
	return c.GetOrder(ctx, symbol, clientOrderID)
}

// Klines returns up to limit closed candles for symbol, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	svc := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit)
	return closedKlines(ctx, svc, symbol)
}

// KlinesRange returns up to limit closed candles opening in [from, to).
func (c *Client) KlinesRange(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]market.Candle, error) {
	svc := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(from.UnixMilli()).
		EndTime(to.UnixMilli() - 1).
		Limit(limit)
	return closedKlines(ctx, svc, symbol)
}

func closedKlines(ctx context.Context, svc *bn.KlinesService, symbol string) ([]market.Candle, error) {
	ks, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, classify(err))
	}
	now := time.Now().UnixMilli()
	out := make([]market.Candle, 0, len(ks))
	for _, k := range ks {
		if k.CloseTime >= now {
			continue
		}
		cd, err := candle(k)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		out = append(out, cd)
	}
	return out, nil
}

func candle(k *bn.Kline) (market.Candle, error) {
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return market.Candle{}, fmt.Errorf("parse kline value %q: %w", s, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return market.Candle{
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

func sideType(s market.Side) bn.SideType {
	if s == market.Sell {
		return bn.SideTypeSell
	}
	return bn.SideTypeBuy
}

func side(s bn.SideType) market.Side {
	if s == bn.SideTypeSell {
		return market.Sell
	}
	return market.Buy
}

func status(s bn.OrderStatusType) broker.Status {
	switch s {
	case bn.OrderStatusTypeNew, bn.OrderStatusTypePendingCancel:
		return broker.StatusNew
	case bn.OrderStatusTypePartiallyFilled:
		return broker.StatusPartiallyFilled
	case bn.OrderStatusTypeFilled:
		return broker.StatusFilled
	case bn.OrderStatusTypeCanceled:
		return broker.StatusCanceled
	case bn.OrderStatusTypeRejected:
		return broker.StatusRejected
	case bn.OrderStatusTypeExpired:
		return broker.StatusExpired
	}
	return broker.StatusNew
}

func num(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// avgPrice is cumulative quote / executed quantity.
func avgPrice(executed, cumQuote string) float64 {
	q := num(executed)
	if !q.IsPositive() {
		return 0
	}
	return num(cumQuote).Div(q).InexactFloat64()
}

func fromOrder(o *bn.Order) broker.OrderReport {
	return broker.OrderReport{
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: fmt.Sprint(o.OrderID),
		Symbol:          o.Symbol,
		Side:            side(o.Side),
		Status:          status(o.Status),
		RequestedQty:    num(o.OrigQuantity).InexactFloat64(),
		FilledQty:       num(o.ExecutedQuantity).InexactFloat64(),
		AvgPrice:        avgPrice(o.ExecutedQuantity, o.CummulativeQuoteQuantity),
		UpdatedAt:       time.UnixMilli(o.UpdateTime).UTC(),
	}
}

func (c *Client) fromCreate(r *bn.CreateOrderResponse) broker.OrderReport {
	rep := broker.OrderReport{
		ClientOrderID:   r.ClientOrderID,
		ExchangeOrderID: fmt.Sprint(r.OrderID),
		Symbol:          r.Symbol,
		Side:            side(r.Side),
		Status:          status(r.Status),
		RequestedQty:    num(r.OrigQuantity).InexactFloat64(),
		FilledQty:       num(r.ExecutedQuantity).InexactFloat64(),
		AvgPrice:        avgPrice(r.ExecutedQuantity, r.CummulativeQuoteQuantity),
		UpdatedAt:       time.UnixMilli(r.TransactTime).UTC(),
	}
	rep.Fee = c.fees(r.Symbol, r.Fills)
	return rep
}

// fees converts commissions to the quote asset. Commissions paid in a
// third asset are not counted.
func (c *Client) fees(symbol string, fills []*bn.Fill) float64 {
	base := strings.TrimSuffix(symbol, c.quote)
	total := decimal.Zero
	for _, f := range fills {
		switch f.CommissionAsset {
		case c.quote:
			total = total.Add(num(f.Commission))
		case base:
			total = total.Add(num(f.Commission).Mul(num(f.Price)))
		}
	}
	return total.InexactFloat64()
}

// Binance error codes that matter to order handling.
const (
	codeInternal         = -1000
	codeDisconnected     = -1001
	codeUnknown          = -1006
	codeTimeout          = -1007
	codeTooManyRequests  = -1003
	codeTooManyOrders    = -1015
	codeFilterFailure    = -1013
	codeBadSymbol        = -1121
	codeNewOrderRejected = -2010
	codeCancelRejected   = -2011
	codeNoSuchOrder      = -2013
)

// classify maps a go-binance error onto the broker sentinels.
func classify(err error) error {
	var api *common.APIError
	if errors.As(err, &api) {
		msg := strings.ToLower(api.Message)
		switch api.Code {
		case codeDisconnected, codeUnknown, codeTimeout:
			return fmt.Errorf("%w: %v", broker.ErrTimeout, err)
		case codeTooManyRequests, codeTooManyOrders:
			return fmt.Errorf("%w: %v", broker.ErrRateLimited, err)
		case codeFilterFailure:
			return fmt.Errorf("%w: %v", broker.ErrRejected, err)
		case codeBadSymbol:
			return fmt.Errorf("%w: %v", broker.ErrInvalidSymbol, err)
		case codeNoSuchOrder, codeCancelRejected:
			return fmt.Errorf("%w: %v", broker.ErrOrderNotFound, err)
		case codeNewOrderRejected:
			switch {
			case strings.Contains(msg, "duplicate"):
				return fmt.Errorf("%w: %v", broker.ErrDuplicateOrder, err)
			case strings.Contains(msg, "insufficient balance"):
				return fmt.Errorf("%w: %v", broker.ErrInsufficientBalance, err)
			}
			return fmt.Errorf("%w: %v", broker.ErrRejected, err)
		}
		if api.Code <= -1100 && api.Code > -1200 {
			return fmt.Errorf("%w: %v", broker.ErrRejected, err)
		}
		return fmt.Errorf("%w: %v", broker.ErrTransient, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", broker.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", broker.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", broker.ErrTransient, err)
}

// classifyCreate is classify for order placement. Without a definite answer
// from the exchange the order may have been accepted, so transport failures
// and internal errors are reported as timeouts and the caller looks the
// order up before sending it again.
func classifyCreate(err error) error {
	var api *common.APIError
	if errors.As(err, &api) {
		if api.Code == codeInternal {
			return fmt.Errorf("%w: %v", broker.ErrTimeout, err)
		}
		return classify(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", broker.ErrTimeout, err)
}
