package ledger

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	ticker TEXT NOT NULL,
	side TEXT NOT NULL,
	status TEXT NOT NULL,
	requested_amount REAL NOT NULL,
	filled_amount REAL NOT NULL,
	price REAL NOT NULL,
	pnl_pct REAL NOT NULL DEFAULT 0,
	reason TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	CHECK (filled_amount <= requested_amount * 1.01)
);

CREATE TABLE IF NOT EXISTS positions (
	ticker TEXT PRIMARY KEY,
	entry_price REAL NOT NULL,
	quantity REAL NOT NULL,
	entry_time DATETIME NOT NULL,
	stop_price REAL NOT NULL,
	stop_pct REAL NOT NULL,
	stop_type TEXT NOT NULL,
	atr_at_entry REAL NOT NULL,
	high_water_mark REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);
`
