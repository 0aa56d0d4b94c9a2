// Package postgres is a journal.Store backed by PostgreSQL through gorm.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Option describes how to reach the database. ConnString wins when set.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
}

func (opt Option) DSN() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for k, v := range opt.Params {
		if k == "" {
			continue
		}
		query.Set(k, v)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

type orderRow struct {
	ClientOrderID   string `gorm:"primaryKey"`
	Symbol          string
	Strategy        string
	Intent          string
	Side            string
	Quantity        float64
	StopPrice       float64
	Notional        float64
	Reason          string
	State           string `gorm:"index"`
	ExchangeOrderID string
	FilledQty       float64
	AvgPrice        float64
	Fee             float64
	Attempts        int
	LastError       string
	CycleID         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (orderRow) TableName() string { return "orders" }

type breakerRow struct {
	Kind         string `gorm:"primaryKey"`
	Scope        string `gorm:"primaryKey"`
	Tripped      bool
	TrippedAt    time.Time
	LockoutUntil time.Time
	Anchor       time.Time
	Count        int
	Reason       string
}

func (breakerRow) TableName() string { return "breakers" }

type portfolioRow struct {
	ID        int `gorm:"primaryKey"`
	State     string
	UpdatedAt time.Time
}

func (portfolioRow) TableName() string { return "portfolio_state" }

type tradeRow struct {
	TradeID    string `gorm:"primaryKey"`
	Symbol     string
	Strategy   string
	Side       string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	Fees       float64
	PnL        float64 `gorm:"column:pnl"`
	OpenTime   time.Time
	CloseTime  time.Time `gorm:"index"`
	Reason     string
}

func (tradeRow) TableName() string { return "trades" }

type equityRow struct {
	ID            uint      `gorm:"primaryKey"`
	Time          time.Time `gorm:"index"`
	Cash          float64
	Equity        float64
	EquityPeak    float64
	Drawdown      float64
	DailyPnL      float64 `gorm:"column:daily_pnl"`
	OpenPositions int
}

func (equityRow) TableName() string { return "equity" }

type Store struct {
	db *gorm.DB
}

var _ journal.Store = (*Store)(nil)

// Open connects and migrates the schema.
func Open(opt Option) (*Store, error) {
	db, err := gorm.Open(postgres.Open(opt.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&orderRow{}, &breakerRow{}, &portfolioRow{}, &tradeRow{}, &equityRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func toOrderRow(o execution.Order) orderRow {
	return orderRow{
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Strategy:        o.Strategy,
		Intent:          string(o.Intent),
		Side:            string(o.Side),
		Quantity:        o.Quantity,
		StopPrice:       o.StopPrice,
		Notional:        o.Notional,
		Reason:          o.Reason,
		State:           string(o.State),
		ExchangeOrderID: o.ExchangeOrderID,
		FilledQty:       o.FilledQty,
		AvgPrice:        o.AvgPrice,
		Fee:             o.Fee,
		Attempts:        o.Attempts,
		LastError:       o.LastError,
		CycleID:         o.CycleID,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
}

func (r orderRow) order() (execution.Order, error) {
	st, err := execution.ParseState(r.State)
	if err != nil {
		return execution.Order{}, err
	}
	return execution.Order{
		ClientOrderID:   r.ClientOrderID,
		Symbol:          r.Symbol,
		Strategy:        r.Strategy,
		Intent:          execution.Intent(r.Intent),
		Side:            market.Side(r.Side),
		Quantity:        r.Quantity,
		StopPrice:       r.StopPrice,
		Notional:        r.Notional,
		Reason:          r.Reason,
		State:           st,
		ExchangeOrderID: r.ExchangeOrderID,
		FilledQty:       r.FilledQty,
		AvgPrice:        r.AvgPrice,
		Fee:             r.Fee,
		Attempts:        r.Attempts,
		LastError:       r.LastError,
		CycleID:         r.CycleID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func (s *Store) SaveOrder(ctx context.Context, o execution.Order) error {
	return saveOrder(s.db.WithContext(ctx), o)
}

// SaveFill writes a filled order and the portfolio it produced in one
// transaction.
func (s *Store) SaveFill(ctx context.Context, o execution.Order, st portfolio.State) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveOrder(tx, o); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		if err := savePortfolio(tx, st); err != nil {
			return fmt.Errorf("save portfolio: %w", err)
		}
		return nil
	})
}

func saveOrder(db *gorm.DB, o execution.Order) error {
	row := toOrderRow(o)
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "exchange_order_id", "filled_qty", "avg_price", "fee",
			"attempts", "last_error", "updated_at",
		}),
	}).Create(&row).Error
}

func (s *Store) GetOrder(ctx context.Context, key string) (execution.Order, error) {
	var row orderRow
	err := s.db.WithContext(ctx).Where("client_order_id = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return execution.Order{}, fmt.Errorf("order %q: %w", key, execution.ErrUnknownOrder)
	}
	if err != nil {
		return execution.Order{}, err
	}
	return row.order()
}

func (s *Store) OpenOrders(ctx context.Context) ([]execution.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{string(execution.Pending), string(execution.Submitted)}).
		Order("created_at, client_order_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]execution.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.order()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Store) SaveBreaker(ctx context.Context, st breaker.State) error {
	row := breakerRow{
		Kind:         string(st.Kind),
		Scope:        st.Scope,
		Tripped:      st.Tripped,
		TrippedAt:    st.TrippedAt.UTC(),
		LockoutUntil: st.LockoutUntil.UTC(),
		Anchor:       st.Anchor.UTC(),
		Count:        st.Count,
		Reason:       st.Reason,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "scope"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *Store) LoadBreakers(ctx context.Context) ([]breaker.State, error) {
	var rows []breakerRow
	if err := s.db.WithContext(ctx).Order("kind, scope").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]breaker.State, 0, len(rows))
	for _, r := range rows {
		kind, err := breaker.ParseKind(r.Kind)
		if err != nil {
			return nil, err
		}
		out = append(out, breaker.State{
			Kind:         kind,
			Scope:        r.Scope,
			Tripped:      r.Tripped,
			TrippedAt:    r.TrippedAt,
			LockoutUntil: r.LockoutUntil,
			Anchor:       r.Anchor,
			Count:        r.Count,
			Reason:       r.Reason,
		})
	}
	return out, nil
}

func (s *Store) SavePortfolio(ctx context.Context, st portfolio.State) error {
	return savePortfolio(s.db.WithContext(ctx), st)
}

func savePortfolio(db *gorm.DB, st portfolio.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode portfolio: %w", err)
	}
	row := portfolioRow{ID: 1, State: string(b), UpdatedAt: time.Now().UTC()}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *Store) LoadPortfolio(ctx context.Context) (portfolio.State, bool, error) {
	var row portfolioRow
	err := s.db.WithContext(ctx).Where("id = ?", 1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return portfolio.State{}, false, nil
	}
	if err != nil {
		return portfolio.State{}, false, err
	}
	var st portfolio.State
	if err := json.Unmarshal([]byte(row.State), &st); err != nil {
		return portfolio.State{}, false, fmt.Errorf("decode portfolio: %w", err)
	}
	return st, true, nil
}

func (s *Store) RecordTrade(ctx context.Context, t portfolio.TradeOutcome) error {
	row := tradeRow{
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		Strategy:   t.Strategy,
		Side:       string(t.Side),
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Fees:       t.Fees,
		PnL:        t.PnL,
		OpenTime:   t.OpenedAt.UTC(),
		CloseTime:  t.ClosedAt.UTC(),
		Reason:     t.Reason,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) RecordEquity(ctx context.Context, e journal.EquitySnapshot) error {
	row := equityRow{
		Time:          e.Time.UTC(),
		Cash:          e.Cash,
		Equity:        e.Equity,
		EquityPeak:    e.EquityPeak,
		Drawdown:      e.Drawdown,
		DailyPnL:      e.DailyPnL,
		OpenPositions: e.OpenPositions,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
