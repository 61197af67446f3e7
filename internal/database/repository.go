package database

import (
	"database/sql"
	"fmt"
	"time"

	"pump-signal-bot/pkg/types"
)

// SaveSignal appends one admitted-signal row.
func (db *DB) SaveSignal(rec types.SignalRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO signals (symbol, price, volume, score, rsi, macd, macd_sig, volume_spike, ts_utc)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.Symbol, rec.Price, rec.Volume, rec.Score, rec.RSI,
		rec.MACD, rec.MACDSignal, rec.VolumeSpike,
		rec.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	db.log.Info().Str("symbol", rec.Symbol).Float64("score", rec.Score).Msg("signal saved")
	return nil
}

// LastSignals returns the newest limit signal rows, newest first.
func (db *DB) LastSignals(limit int) ([]types.SignalRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, symbol, price, volume, score, rsi, macd, macd_sig, volume_spike, ts_utc
		FROM signals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SignalRecord
	for rows.Next() {
		var rec types.SignalRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Price, &rec.Volume, &rec.Score,
			&rec.RSI, &rec.MACD, &rec.MACDSignal, &rec.VolumeSpike, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TradeOpen persists a fresh OPEN trade and returns its row id.
func (db *DB) TradeOpen(t *types.Trade) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO trades
		(symbol, side, entry, size, qty, tp1, tp2, sl, filled_tp1_qty, status, opened_at, last_price, last_update)
		VALUES (?,?,?,?,?,?,?,?,0,?,?,?,?)`,
		t.Symbol, string(t.Side), t.Entry, t.SizeUSD, t.Qty, t.TP1, t.TP2, t.SL,
		string(types.TradeOpen),
		t.OpenedAt.UTC().Format(timeLayout),
		t.Entry,
		t.OpenedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

// OpenTrades returns every non-closed trade; pass a symbol to narrow.
func (db *DB) OpenTrades(symbol string) ([]types.Trade, error) {
	query := `
		SELECT id, symbol, side, entry, size, qty, tp1, tp2, sl,
		       filled_tp1_qty, status, opened_at, closed_at, pnl_usd, pnl_pct, last_price, last_update
		FROM trades WHERE status IN ('OPEN','PARTIAL')`
	args := []any{}
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// RecentTrades returns the newest limit trades, newest first.
func (db *DB) RecentTrades(limit int) ([]types.Trade, error) {
	rows, err := db.conn.Query(`
		SELECT id, symbol, side, entry, size, qty, tp1, tp2, sl,
		       filled_tp1_qty, status, opened_at, closed_at, pnl_usd, pnl_pct, last_price, last_update
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// TradesBetween returns trades opened or closed inside [start, end].
func (db *DB) TradesBetween(start, end time.Time) ([]types.Trade, error) {
	s := start.UTC().Format(timeLayout)
	e := end.UTC().Format(timeLayout)
	rows, err := db.conn.Query(`
		SELECT id, symbol, side, entry, size, qty, tp1, tp2, sl,
		       filled_tp1_qty, status, opened_at, closed_at, pnl_usd, pnl_pct, last_price, last_update
		FROM trades
		WHERE (opened_at BETWEEN ? AND ?) OR (closed_at BETWEEN ? AND ?)
		ORDER BY id ASC`, s, e, s, e)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// SymbolsWithOpenTrades lists the distinct symbols that still have a
// non-closed trade.
func (db *DB) SymbolsWithOpenTrades() ([]string, error) {
	rows, err := db.conn.Query(
		`SELECT DISTINCT symbol FROM trades WHERE status IN ('OPEN','PARTIAL')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// TradeMarkPartial advances the TP1 fill on a trade and stamps the tick.
func (db *DB) TradeMarkPartial(id int64, filledTP1Qty float64, status types.TradeStatus, lastPrice float64, ts time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE trades
		SET filled_tp1_qty = ?, status = ?, last_price = ?, last_update = ?
		WHERE id = ?`,
		filledTP1Qty, string(status), lastPrice, ts.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark partial trade %d: %w", id, err)
	}
	return nil
}

// TradeClose finalizes a trade with its realized PnL.
func (db *DB) TradeClose(id int64, lastPrice float64, ts time.Time, pnlUSD, pnlPct float64) error {
	_, err := db.conn.Exec(`
		UPDATE trades
		SET status = 'CLOSED', closed_at = ?, last_price = ?, last_update = ?, pnl_usd = ?, pnl_pct = ?
		WHERE id = ?`,
		ts.UTC().Format(timeLayout), lastPrice, ts.UTC().Format(timeLayout), pnlUSD, pnlPct, id)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", id, err)
	}
	return nil
}

// PnLStats summarizes all closed trades.
type PnLStats struct {
	Closed  int
	Wins    int
	Losses  int
	Winrate float64
	PnLUSD  float64
}

func (db *DB) PnLSummary() (PnLStats, error) {
	var s PnLStats
	row := db.conn.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN pnl_usd > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl_usd <= 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pnl_usd), 0)
		FROM trades WHERE status = 'CLOSED'`)
	if err := row.Scan(&s.Closed, &s.Wins, &s.Losses, &s.PnLUSD); err != nil {
		return s, err
	}
	if s.Closed > 0 {
		s.Winrate = float64(s.Wins) / float64(s.Closed) * 100
	}
	return s, nil
}

// RecentSuccessRate returns the win percentage over the last limit closed
// trades, 0 when there is no history yet.
func (db *DB) RecentSuccessRate(limit int) float64 {
	rows, err := db.conn.Query(`
		SELECT pnl_usd FROM trades WHERE status = 'CLOSED' ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		db.log.Warn().Err(err).Msg("success rate query failed")
		return 0
	}
	defer rows.Close()

	total, wins := 0, 0
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			continue
		}
		total++
		if pnl > 0 {
			wins++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}

func scanTrades(rows *sql.Rows) ([]types.Trade, error) {
	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var side, status, openedAt, lastUpdate string
		var closedAt sql.NullString
		var lastPrice sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Entry, &t.SizeUSD, &t.Qty,
			&t.TP1, &t.TP2, &t.SL, &t.FilledTP1Qty, &status,
			&openedAt, &closedAt, &t.PnLUSD, &t.PnLPct, &lastPrice, &lastUpdate); err != nil {
			return nil, err
		}
		t.Side = types.Side(side)
		t.Status = types.TradeStatus(status)
		t.OpenedAt, _ = time.Parse(timeLayout, openedAt)
		if closedAt.Valid {
			t.ClosedAt, _ = time.Parse(timeLayout, closedAt.String)
		}
		if lastPrice.Valid {
			t.LastPrice = lastPrice.Float64
		}
		t.LastUpdate, _ = time.Parse(timeLayout, lastUpdate)
		out = append(out, t)
	}
	return out, rows.Err()
}
