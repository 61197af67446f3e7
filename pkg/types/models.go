package types

import (
	"fmt"
	"time"
)

// Side is the direction of a signal or trade.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Candle is a single OHLCV bar. Times are UTC.
type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// SymbolInfo describes a tradable pair as reported by the exchange.
type SymbolInfo struct {
	Symbol string
	Status string
}

// SignalContext carries the market features that produced a candidate.
// Unavailable values (RSI before warm-up, missing swing pivots) are NaN.
type SignalContext struct {
	RSI              float64
	ATRPct           float64
	VolumeRatio      float64
	RiskReward       float64
	SwingHigh        float64
	SwingLow         float64
	TrendLabel       string
	MACD             float64
	MACDSignal       float64
	SpreadPct        float64
	LiquidityBlocked bool
	VolumeChangePct  float64
}

// SignalCandidate is an immutable analyzer output. ChartPath stays empty
// until the coordinator renders the chart artifact.
type SignalCandidate struct {
	Symbol       string
	Side         Side
	Timeframe    string
	HTFTimeframe string
	EntryRange   [2]float64
	TPLevels     []float64
	StopLoss     float64
	Leverage     int
	Strategy     string
	CreatedAt    time.Time
	ChartPath    string
	Context      SignalContext
}

// EntryMid returns the midpoint of the entry range.
func (c *SignalCandidate) EntryMid() float64 {
	return (c.EntryRange[0] + c.EntryRange[1]) / 2
}

// Validate checks the price-level ordering for the candidate's side:
// LONG requires sl < mid(entry) < tp1 < tp2 < ..., SHORT the mirror.
func (c *SignalCandidate) Validate() error {
	if c.EntryRange[0] > c.EntryRange[1] {
		return fmt.Errorf("entry range inverted: [%f, %f]", c.EntryRange[0], c.EntryRange[1])
	}
	if len(c.TPLevels) < 2 || len(c.TPLevels) > 3 {
		return fmt.Errorf("expected 2-3 tp levels, got %d", len(c.TPLevels))
	}
	mid := c.EntryMid()
	switch c.Side {
	case SideLong:
		if c.StopLoss >= mid {
			return fmt.Errorf("LONG stop %f not below entry %f", c.StopLoss, mid)
		}
		prev := mid
		for i, tp := range c.TPLevels {
			if tp <= prev {
				return fmt.Errorf("LONG tp%d %f not above %f", i+1, tp, prev)
			}
			prev = tp
		}
	case SideShort:
		if c.StopLoss <= mid {
			return fmt.Errorf("SHORT stop %f not above entry %f", c.StopLoss, mid)
		}
		prev := mid
		for i, tp := range c.TPLevels {
			if tp >= prev {
				return fmt.Errorf("SHORT tp%d %f not below %f", i+1, tp, prev)
			}
			prev = tp
		}
	default:
		return fmt.Errorf("unknown side %q", c.Side)
	}
	return nil
}

// MarketContext is the input to the quality filter, derived by the
// coordinator from the candidate and recent trade history.
type MarketContext struct {
	Price            float64
	RSI              float64 // NaN when not ready
	ATRValue         float64
	RiskReward       float64
	VolumeChangePct  float64
	SpreadPct        float64
	LiquidityBlocked bool
	TrendOK          bool
	VolumeSpike      bool
	SuccessRate      float64
}

// TradeStatus is the lifecycle state of a simulated trade.
type TradeStatus string

const (
	TradeOpen    TradeStatus = "OPEN"
	TradePartial TradeStatus = "PARTIAL"
	TradeClosed  TradeStatus = "CLOSED"
)

// Trade is a simulated position owned by the simulator. ClosedAt is the zero
// time until the trade reaches CLOSED.
type Trade struct {
	ID           int64
	Symbol       string
	Side         Side
	Entry        float64
	SizeUSD      float64
	Qty          float64
	TP1          float64
	TP2          float64
	SL           float64
	FilledTP1Qty float64
	Status       TradeStatus
	OpenedAt     time.Time
	ClosedAt     time.Time
	PnLUSD       float64
	PnLPct       float64
	LastPrice    float64
	LastUpdate   time.Time
}

// SignalRecord is a durable row describing one admitted signal.
type SignalRecord struct {
	ID          int64
	Symbol      string
	Price       float64
	Volume      float64
	Score       float64
	RSI         float64
	MACD        float64
	MACDSignal  float64
	VolumeSpike float64
	Timestamp   time.Time
}
