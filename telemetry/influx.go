package telemetry

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/portfolio"
)

type InfluxConfig struct {
	URL          string
	Token        string
	Organization string
	Bucket       string
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes points synchronously so a failed write surfaces to the
// caller instead of a background error channel.
type Influx struct {
	client influxdb2.Client
	w      pointWriter
}

// NewInflux connects and checks server health.
func NewInflux(ctx context.Context, cfg InfluxConfig) (*Influx, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb not healthy: %+v", health)
	}

	return &Influx{
		client: client,
		w:      client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
	}, nil
}

func (i *Influx) RecordDecision(ctx context.Context, d Decision) error {
	allowed := "false"
	if d.Allowed {
		allowed = "true"
	}
	p := influxdb2.NewPoint("decision",
		map[string]string{
			"symbol":  d.Symbol,
			"regime":  d.Regime,
			"stage":   d.Stage,
			"allowed": allowed,
		},
		map[string]interface{}{
			"direction":  d.Direction,
			"confidence": d.Confidence,
			"notional":   d.Notional,
			"reason":     d.Reason,
			"cycle_id":   d.CycleID,
		},
		d.Time,
	)
	return i.w.WritePoint(ctx, p)
}

func (i *Influx) RecordTrade(ctx context.Context, t portfolio.TradeOutcome) error {
	p := influxdb2.NewPoint("trade",
		map[string]string{
			"symbol":   t.Symbol,
			"strategy": t.Strategy,
			"side":     string(t.Side),
		},
		map[string]interface{}{
			"quantity":    t.Quantity,
			"entry_price": t.EntryPrice,
			"exit_price":  t.ExitPrice,
			"fees":        t.Fees,
			"pnl":         t.PnL,
			"hold_secs":   t.ClosedAt.Sub(t.OpenedAt).Seconds(),
			"reason":      t.Reason,
		},
		t.ClosedAt,
	)
	return i.w.WritePoint(ctx, p)
}

func (i *Influx) RecordEquity(ctx context.Context, e journal.EquitySnapshot) error {
	p := influxdb2.NewPoint("equity",
		nil,
		map[string]interface{}{
			"cash":           e.Cash,
			"equity":         e.Equity,
			"equity_peak":    e.EquityPeak,
			"drawdown":       e.Drawdown,
			"daily_pnl":      e.DailyPnL,
			"open_positions": e.OpenPositions,
		},
		e.Time,
	)
	return i.w.WritePoint(ctx, p)
}

func (i *Influx) Close() error {
	if i.client != nil {
		i.client.Close()
	}
	return nil
}

var _ Sink = (*Influx)(nil)

func newInfluxWithWriter(w pointWriter) *Influx {
	return &Influx{w: w}
}
