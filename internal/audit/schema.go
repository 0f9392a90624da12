package audit

// sqliteSchema and postgresSchema are idempotent DDL, issued in order on every Open, mirroring
// original_source/broker/daemon/src/broker_daemon/audit/schema.py. Dialect
// differences (AUTOINCREMENT vs SERIAL) are handled by sqliteSchema/postgresSchema.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		source TEXT NOT NULL,
		command TEXT NOT NULL,
		arguments TEXT,
		result_code INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_order_id TEXT NOT NULL UNIQUE,
		broker_order_id INTEGER,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty REAL NOT NULL,
		order_type TEXT NOT NULL,
		limit_price TEXT,
		stop_price TEXT,
		tif TEXT,
		status TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		filled_at TEXT,
		fill_price TEXT,
		fill_qty REAL,
		commission TEXT,
		risk_check_result TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fill_id TEXT NOT NULL UNIQUE,
		client_order_id TEXT NOT NULL,
		broker_order_id INTEGER,
		symbol TEXT NOT NULL,
		qty REAL NOT NULL,
		price TEXT NOT NULL,
		commission TEXT,
		timestamp TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS connection_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		event TEXT NOT NULL,
		details TEXT
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS commands (
		id SERIAL PRIMARY KEY,
		timestamp TEXT NOT NULL,
		source TEXT NOT NULL,
		command TEXT NOT NULL,
		arguments TEXT,
		result_code INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		client_order_id TEXT NOT NULL UNIQUE,
		broker_order_id BIGINT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty DOUBLE PRECISION NOT NULL,
		order_type TEXT NOT NULL,
		limit_price TEXT,
		stop_price TEXT,
		tif TEXT,
		status TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		filled_at TEXT,
		fill_price TEXT,
		fill_qty DOUBLE PRECISION,
		commission TEXT,
		risk_check_result TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS fills (
		id SERIAL PRIMARY KEY,
		fill_id TEXT NOT NULL UNIQUE,
		client_order_id TEXT NOT NULL,
		broker_order_id BIGINT,
		symbol TEXT NOT NULL,
		qty DOUBLE PRECISION NOT NULL,
		price TEXT NOT NULL,
		commission TEXT,
		timestamp TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_events (
		id SERIAL PRIMARY KEY,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS connection_events (
		id SERIAL PRIMARY KEY,
		timestamp TEXT NOT NULL,
		event TEXT NOT NULL,
		details TEXT
	)`,
}
