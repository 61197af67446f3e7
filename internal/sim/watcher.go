package sim

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PriceSource provides last-trade prices for the tick stream.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// OpenSymbolSource lists symbols that still carry a non-closed trade.
type OpenSymbolSource interface {
	SymbolsWithOpenTrades() ([]string, error)
}

// Watcher polls last prices for every symbol with a live trade and feeds
// them to the engine, driving TP/SL resolution between scans.
type Watcher struct {
	engine   *Engine
	prices   PriceSource
	open     OpenSymbolSource
	interval time.Duration
	log      zerolog.Logger
}

func NewWatcher(engine *Engine, prices PriceSource, open OpenSymbolSource, interval time.Duration, logger zerolog.Logger) *Watcher {
	return &Watcher{
		engine:   engine,
		prices:   prices,
		open:     open,
		interval: interval,
		log:      logger.With().Str("component", "price_watcher").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	symbols, err := w.open.SymbolsWithOpenTrades()
	if err != nil {
		w.log.Error().Err(err).Msg("open-trade symbol lookup failed")
		return
	}
	for _, sym := range symbols {
		price, err := w.prices.GetPrice(ctx, sym)
		if err != nil {
			w.log.Warn().Err(err).Str("symbol", sym).Msg("price fetch failed, skipping tick")
			continue
		}
		if err := w.engine.OnTick(sym, price); err != nil {
			w.log.Error().Err(err).Str("symbol", sym).Msg("tick processing failed")
		}
	}
}
