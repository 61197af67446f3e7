package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const timeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT, price REAL, volume REAL, score REAL,
    rsi REAL, macd REAL, macd_sig REAL,
    volume_spike REAL, ts_utc TEXT
);
CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry REAL NOT NULL, size REAL NOT NULL, qty REAL NOT NULL,
    tp1 REAL NOT NULL, tp2 REAL NOT NULL, sl REAL NOT NULL,
    filled_tp1_qty REAL DEFAULT 0,
    status TEXT NOT NULL,
    opened_at TEXT NOT NULL, closed_at TEXT,
    pnl_usd REAL DEFAULT 0, pnl_pct REAL DEFAULT 0,
    last_price REAL, last_update TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades(symbol, status);
`

// DB wraps the embedded SQLite store holding signal and trade rows.
// WAL mode keeps concurrent readers off the single writer's back.
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open creates or opens the store at path and ensures the schema exists.
func Open(path string, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY churn between the scanner and the
	// tick loop.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	log := logger.With().Str("component", "database").Logger()
	log.Debug().Str("path", path).Msg("sqlite tables ready (WAL): signals + trades")
	return &DB{conn: conn, log: log}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}
