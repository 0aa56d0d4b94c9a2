package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
)

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path in WAL mode.
func NewSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps WAL transactions serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

const orderColumns = `client_order_id, symbol, strategy, intent, side, quantity, stop_price, notional, reason,
	state, exchange_order_id, filled_qty, avg_price, fee, attempts, last_error, cycle_id, created_at, updated_at`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (j *SQLite) SaveOrder(ctx context.Context, o execution.Order) error {
	return saveOrder(ctx, j.db, o)
}

// SaveFill writes a filled order and the portfolio it produced in one
// transaction.
func (j *SQLite) SaveFill(ctx context.Context, o execution.Order, st portfolio.State) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveOrder(ctx, tx, o); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	if err := savePortfolio(ctx, tx, st); err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	return tx.Commit()
}

func saveOrder(ctx context.Context, db execer, o execution.Order) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			state = excluded.state,
			exchange_order_id = excluded.exchange_order_id,
			filled_qty = excluded.filled_qty,
			avg_price = excluded.avg_price,
			fee = excluded.fee,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		o.ClientOrderID, o.Symbol, o.Strategy, string(o.Intent), string(o.Side),
		o.Quantity, o.StopPrice, o.Notional, o.Reason,
		string(o.State), o.ExchangeOrderID, o.FilledQty, o.AvgPrice, o.Fee,
		o.Attempts, o.LastError, o.CycleID, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (execution.Order, error) {
	var (
		o                   execution.Order
		intent, side, state string
	)
	err := s.Scan(
		&o.ClientOrderID, &o.Symbol, &o.Strategy, &intent, &side,
		&o.Quantity, &o.StopPrice, &o.Notional, &o.Reason,
		&state, &o.ExchangeOrderID, &o.FilledQty, &o.AvgPrice, &o.Fee,
		&o.Attempts, &o.LastError, &o.CycleID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Intent = execution.Intent(intent)
	o.Side = market.Side(side)
	if o.State, err = execution.ParseState(state); err != nil {
		return o, err
	}
	return o, nil
}

func (j *SQLite) GetOrder(ctx context.Context, key string) (execution.Order, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?`, key)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("order %q: %w", key, execution.ErrUnknownOrder)
	}
	return o, err
}

// OpenOrders returns the non-terminal orders, oldest first.
func (j *SQLite) OpenOrders(ctx context.Context) ([]execution.Order, error) {
	return j.ordersWhere(ctx, `state IN (?, ?)`, string(execution.Pending), string(execution.Submitted))
}

func (j *SQLite) OrdersByState(ctx context.Context, state execution.State) ([]execution.Order, error) {
	return j.ordersWhere(ctx, `state = ?`, string(state))
}

func (j *SQLite) ordersWhere(ctx context.Context, where string, args ...any) ([]execution.Order, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY created_at, client_order_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []execution.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (j *SQLite) SaveBreaker(ctx context.Context, s breaker.State) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO breakers (kind, scope, tripped, tripped_at, lockout_until, anchor, count, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, scope) DO UPDATE SET
			tripped = excluded.tripped,
			tripped_at = excluded.tripped_at,
			lockout_until = excluded.lockout_until,
			anchor = excluded.anchor,
			count = excluded.count,
			reason = excluded.reason`,
		string(s.Kind), s.Scope, s.Tripped, s.TrippedAt.UTC(), s.LockoutUntil.UTC(), s.Anchor.UTC(), s.Count, s.Reason,
	)
	return err
}

func (j *SQLite) LoadBreakers(ctx context.Context) ([]breaker.State, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT kind, scope, tripped, tripped_at, lockout_until, anchor, count, reason
		FROM breakers ORDER BY kind, scope`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []breaker.State
	for rows.Next() {
		var (
			s    breaker.State
			kind string
		)
		if err := rows.Scan(&kind, &s.Scope, &s.Tripped, &s.TrippedAt, &s.LockoutUntil, &s.Anchor, &s.Count, &s.Reason); err != nil {
			return nil, err
		}
		if s.Kind, err = breaker.ParseKind(kind); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (j *SQLite) SavePortfolio(ctx context.Context, st portfolio.State) error {
	return savePortfolio(ctx, j.db, st)
}

func savePortfolio(ctx context.Context, db execer, st portfolio.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode portfolio: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO portfolio_state (id, state, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		string(b), time.Now().UTC(),
	)
	return err
}

func (j *SQLite) LoadPortfolio(ctx context.Context) (portfolio.State, bool, error) {
	var raw string
	err := j.db.QueryRowContext(ctx, `SELECT state FROM portfolio_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return portfolio.State{}, false, nil
	}
	if err != nil {
		return portfolio.State{}, false, err
	}
	var st portfolio.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return portfolio.State{}, false, fmt.Errorf("decode portfolio: %w", err)
	}
	return st, true, nil
}

func (j *SQLite) RecordTrade(ctx context.Context, t portfolio.TradeOutcome) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
		(trade_id, symbol, strategy, side, quantity, entry_price, exit_price, fees, pnl, open_time, close_time, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, t.Strategy, string(t.Side), t.Quantity, t.EntryPrice,
		t.ExitPrice, t.Fees, t.PnL, t.OpenedAt.UTC(), t.ClosedAt.UTC(), t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO equity
		(time, cash, equity, equity_peak, drawdown, daily_pnl, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Cash, e.Equity, e.EquityPeak, e.Drawdown, e.DailyPnL, e.OpenPositions,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
