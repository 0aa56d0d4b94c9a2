package journal

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	client_order_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	strategy TEXT NOT NULL,
	intent TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	stop_price REAL NOT NULL,
	notional REAL NOT NULL,
	reason TEXT NOT NULL,
	state TEXT NOT NULL,
	exchange_order_id TEXT NOT NULL,
	filled_qty REAL NOT NULL,
	avg_price REAL NOT NULL,
	fee REAL NOT NULL,
	attempts INTEGER NOT NULL,
	last_error TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);

CREATE TABLE IF NOT EXISTS breakers (
	kind TEXT NOT NULL,
	scope TEXT NOT NULL,
	tripped INTEGER NOT NULL,
	tripped_at DATETIME NOT NULL,
	lockout_until DATETIME NOT NULL,
	anchor DATETIME NOT NULL,
	count INTEGER NOT NULL,
	reason TEXT NOT NULL,
	PRIMARY KEY (kind, scope)
);

CREATE TABLE IF NOT EXISTS portfolio_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	state TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	strategy TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	fees REAL NOT NULL,
	pnl REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	cash REAL NOT NULL,
	equity REAL NOT NULL,
	equity_peak REAL NOT NULL,
	drawdown REAL NOT NULL,
	daily_pnl REAL NOT NULL,
	open_positions INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
