package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pump-signal-bot/pkg/types"
)

// Config tunes the paper-trading rules.
type Config struct {
	EquityUSD   float64
	RiskPct     float64
	TP1RatioQty float64
	FeeBps      float64
	BEOnTP1     bool
	Notify      bool
}

// TradeStore is the persistence slice the engine drives.
type TradeStore interface {
	TradeOpen(t *types.Trade) (int64, error)
	OpenTrades(symbol string) ([]types.Trade, error)
	TradeMarkPartial(id int64, filledTP1Qty float64, status types.TradeStatus, lastPrice float64, ts time.Time) error
	TradeClose(id int64, lastPrice float64, ts time.Time, pnlUSD, pnlPct float64) error
}

// Broadcaster delivers trade lifecycle notices to the chat channel.
type Broadcaster interface {
	Broadcast(text string)
}

// Engine simulates position lifecycle for admitted signals:
// fixed-risk sizing at open, partial close at TP1, full close at TP2 or SL,
// optional break-even promotion of the remainder after TP1. Open and tick
// paths share one lock so a tick can never race a fresh open on the same
// symbol.
type Engine struct {
	cfg    Config
	store  TradeStore
	notify Broadcaster
	mu     sync.Mutex
	log    zerolog.Logger
	now    func() time.Time
}

func NewEngine(cfg Config, store TradeStore, notify Broadcaster, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		notify: notify,
		log:    logger.With().Str("component", "sim").Logger(),
		now:    time.Now,
	}
}

func (e *Engine) fee(notionalUSD float64) float64 {
	return e.cfg.FeeBps / 10000 * notionalUSD
}

func (e *Engine) broadcast(text string) {
	if e.cfg.Notify && e.notify != nil {
		e.notify.Broadcast(text)
	}
}

// OpenTrade sizes and persists a position for an admitted candidate.
// Position size risks EquityUSD * RiskPct% against the stop distance.
func (e *Engine) OpenTrade(cand *types.SignalCandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.OpenTrades(cand.Symbol)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%s already has a non-closed trade", cand.Symbol)
	}

	entry := cand.EntryMid()
	tp1 := cand.TPLevels[0]
	tp2 := cand.TPLevels[1]
	sl := cand.StopLoss

	stopDist := entry - sl
	if stopDist < 0 {
		stopDist = -stopDist
	}
	if stopDist <= 0 {
		return fmt.Errorf("%s stop distance is zero, trade not opened", cand.Symbol)
	}
	riskUSD := e.cfg.EquityUSD * e.cfg.RiskPct / 100
	qty := riskUSD / stopDist
	if qty <= 0 {
		return fmt.Errorf("%s qty <= 0, trade not opened", cand.Symbol)
	}

	trade := &types.Trade{
		Symbol:   cand.Symbol,
		Side:     cand.Side,
		Entry:    entry,
		SizeUSD:  qty * entry,
		Qty:      qty,
		TP1:      tp1,
		TP2:      tp2,
		SL:       sl,
		Status:   types.TradeOpen,
		OpenedAt: e.now().UTC(),
	}
	if _, err := e.store.TradeOpen(trade); err != nil {
		return fmt.Errorf("persist trade: %w", err)
	}

	txt := fmt.Sprintf("%s OPEN %s\nEntry:%.4f SL:%.4f TP1:%.4f TP2:%.4f",
		trade.Side, trade.Symbol, entry, sl, tp1, tp2)
	e.log.Info().Str("symbol", trade.Symbol).Str("side", string(trade.Side)).
		Float64("qty", qty).Float64("size_usd", trade.SizeUSD).Msg("simulated trade opened")
	e.broadcast(txt)
	return nil
}

// OnTick advances every non-closed trade on symbol against lastPrice.
func (e *Engine) OnTick(symbol string, lastPrice float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	trades, err := e.store.OpenTrades(symbol)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}
	for i := range trades {
		e.advance(&trades[i], lastPrice)
	}
	return nil
}

func (e *Engine) advance(t *types.Trade, lastPrice float64) {
	long := t.Side == types.SideLong

	hitTP2 := (long && lastPrice >= t.TP2) || (!long && lastPrice <= t.TP2)
	hitSL := (long && lastPrice <= t.SL) || (!long && lastPrice >= t.SL)
	hitTP1 := (long && lastPrice >= t.TP1) || (!long && lastPrice <= t.TP1)

	switch {
	case hitTP2:
		e.finalClose(t, t.TP2, "TP2")
	case hitSL:
		e.finalClose(t, t.SL, "SL")
	case hitTP1 && t.FilledTP1Qty < t.Qty*e.cfg.TP1RatioQty:
		e.partialClose(t, lastPrice)
	}
}

func (e *Engine) partialClose(t *types.Trade, lastPrice float64) {
	closeQty := t.Qty*e.cfg.TP1RatioQty - t.FilledTP1Qty
	if closeQty <= 0 {
		return
	}

	realized := (t.TP1 - t.Entry) * closeQty
	if t.Side == types.SideShort {
		realized = (t.Entry - t.TP1) * closeQty
	}
	realized -= e.fee(t.Entry*closeQty) + e.fee(t.TP1*closeQty)

	filled := t.FilledTP1Qty + closeQty
	status := types.TradePartial
	if filled >= t.Qty {
		status = types.TradeClosed
	}
	if err := e.store.TradeMarkPartial(t.ID, filled, status, lastPrice, e.now().UTC()); err != nil {
		e.log.Error().Err(err).Int64("trade_id", t.ID).Msg("partial close persist failed")
		return
	}
	t.FilledTP1Qty = filled
	t.Status = status

	e.log.Info().Str("symbol", t.Symbol).Str("side", string(t.Side)).
		Float64("close_qty", closeQty).Float64("realized_usd", realized).Msg("TP1 partial fill")
	e.broadcast(fmt.Sprintf("TP1 HIT %s %s +$%.2f", t.Side, t.Symbol, realized))
	if status == types.TradeClosed {
		// The whole position filled at TP1: stamp the close and its PnL.
		e.finalClose(t, t.TP1, "TP1")
	}
}

// computeTotalPnL recomputes the whole trade deterministically from the
// stored row: the TP1 leg from the filled quantity, the remainder from the
// final exit price. With break-even promotion enabled, a stop-out after TP1
// closes the remainder at entry instead of at the stop.
func (e *Engine) computeTotalPnL(t *types.Trade, finalExitPrice float64, reason string) float64 {
	q1 := t.FilledTP1Qty
	if q1 > t.Qty {
		q1 = t.Qty
	}
	q2 := t.Qty - q1
	if q2 < 0 {
		q2 = 0
	}
	long := t.Side == types.SideLong

	pnl := 0.0
	if q1 > 0 {
		if long {
			pnl += (t.TP1 - t.Entry) * q1
		} else {
			pnl += (t.Entry - t.TP1) * q1
		}
		pnl -= e.fee(t.Entry*q1) + e.fee(t.TP1*q1)
	}

	exitPrice := finalExitPrice
	if e.cfg.BEOnTP1 && q1 > 0 && reason == "SL" {
		exitPrice = t.Entry
	}
	if q2 > 0 {
		if long {
			pnl += (exitPrice - t.Entry) * q2
		} else {
			pnl += (t.Entry - exitPrice) * q2
		}
		pnl -= e.fee(t.Entry*q2) + e.fee(exitPrice*q2)
	}
	return pnl
}

func (e *Engine) finalClose(t *types.Trade, exitPrice float64, reason string) {
	totalPnL := e.computeTotalPnL(t, exitPrice, reason)
	pnlPct := 0.0
	if t.SizeUSD != 0 {
		pnlPct = totalPnL / t.SizeUSD * 100
	}

	if err := e.store.TradeClose(t.ID, exitPrice, e.now().UTC(), totalPnL, pnlPct); err != nil {
		e.log.Error().Err(err).Int64("trade_id", t.ID).Msg("final close persist failed")
		return
	}
	t.Status = types.TradeClosed
	t.PnLUSD = totalPnL
	t.PnLPct = pnlPct

	e.log.Info().Str("symbol", t.Symbol).Str("reason", reason).
		Float64("exit", exitPrice).Float64("pnl_usd", totalPnL).Float64("pnl_pct", pnlPct).
		Msg("simulated trade closed")
	e.broadcast(fmt.Sprintf("%s %s | Exit:%.4f | PnL $%.2f (%.2f%%)",
		t.Symbol, reason, exitPrice, totalPnL, pnlPct))
}
