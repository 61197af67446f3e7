package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"pump-signal-bot/internal/state"
	"pump-signal-bot/pkg/types"
)

// MarketData is the slice of the exchange client the analyzer needs.
type MarketData interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
}

// RejectReason enumerates why the analyzer declined to produce a candidate.
type RejectReason string

const (
	RejectInsufficientHistory RejectReason = "insufficient_history"
	RejectNoHTFTrend          RejectReason = "no_htf_trend"
	RejectATRBand             RejectReason = "atr_band"
	RejectVolume              RejectReason = "volume"
	RejectStructure           RejectReason = "structure"
	RejectSwingMissing        RejectReason = "swing_missing"
)

// Rejection is a typed analyzer refusal, surfaced for structured logging.
type Rejection struct {
	Symbol string
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s rejected (%s): %s", r.Symbol, r.Reason, r.Detail)
}

// Params tunes the midterm analyzer. Strict thresholds apply by default;
// the adaptive set kicks in once a symbol has been starved of admissions
// longer than StarvationHours.
type Params struct {
	BaseTimeframe string
	HTFTimeframe  string
	Leverage      int
	StrategyName  string

	StrictATRMinFactor   float64
	StrictATRMaxFactor   float64
	AdaptiveATRMinFactor float64
	AdaptiveATRMaxFactor float64
	StrictVolumeRatio    float64
	AdaptiveVolumeRatio  float64
	StarvationHours      float64
}

// DefaultParams returns the midterm trend-following tuning.
func DefaultParams() Params {
	return Params{
		BaseTimeframe:        "15m",
		HTFTimeframe:         "1h",
		Leverage:             10,
		StrategyName:         "PUMP-GPT Midterm",
		StrictATRMinFactor:   0.6,
		StrictATRMaxFactor:   1.8,
		AdaptiveATRMinFactor: 0.5,
		AdaptiveATRMaxFactor: 2.0,
		StrictVolumeRatio:    1.5,
		AdaptiveVolumeRatio:  1.2,
		StarvationHours:      4,
	}
}

// Analyzer derives at most one SignalCandidate per invocation from two
// correlated timeframes: the higher timeframe classifies the trend, the base
// timeframe times a pullback-and-break entry.
type Analyzer struct {
	market MarketData
	state  *state.LastSignal
	params Params
	log    zerolog.Logger
	now    func() time.Time
}

func NewAnalyzer(market MarketData, last *state.LastSignal, params Params, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		market: market,
		state:  last,
		params: params,
		log:    logger.With().Str("component", "analyzer").Logger(),
		now:    time.Now,
	}
}

// Analyze inspects symbol and either returns a candidate or a *Rejection.
// Fetch failures are returned as-is.
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (*types.SignalCandidate, error) {
	base, err := a.market.GetKlines(ctx, symbol, a.params.BaseTimeframe, 150)
	if err != nil {
		return nil, fmt.Errorf("%s %s klines: %w", symbol, a.params.BaseTimeframe, err)
	}
	htf, err := a.market.GetKlines(ctx, symbol, a.params.HTFTimeframe, 150)
	if err != nil {
		return nil, fmt.Errorf("%s %s klines: %w", symbol, a.params.HTFTimeframe, err)
	}
	if len(base) < 60 || len(htf) < 60 {
		return nil, &Rejection{symbol, RejectInsufficientHistory,
			fmt.Sprintf("base=%d htf=%d candles", len(base), len(htf))}
	}

	baseClose, baseHigh, baseLow, baseVol := splitOHLCV(base)
	htfClose, _, _, _ := splitOHLCV(htf)

	// HTF trend: require a fully stacked EMA ladder.
	ema20HTF := EMA(htfClose, 20)
	ema50HTF := EMA(htfClose, 50)
	ema100HTF := EMA(htfClose, 100)
	htfNow := htfClose[len(htfClose)-1]
	e20, e50, e100 := last(ema20HTF), last(ema50HTF), last(ema100HTF)

	var trend types.Side
	switch {
	case htfNow > e20 && e20 > e50 && e50 > e100:
		trend = types.SideLong
	case htfNow < e20 && e20 < e50 && e50 < e100:
		trend = types.SideShort
	default:
		return nil, &Rejection{symbol, RejectNoHTFTrend,
			fmt.Sprintf("close=%.6f ema20=%.6f ema50=%.6f ema100=%.6f", htfNow, e20, e50, e100)}
	}

	ema20 := EMA(baseClose, 20)
	atrVals, err := ATR(baseHigh, baseLow, baseClose, 14)
	if err != nil {
		return nil, fmt.Errorf("%s atr: %w", symbol, err)
	}
	if len(atrVals) < 100 {
		return nil, &Rejection{symbol, RejectInsufficientHistory,
			fmt.Sprintf("atr series %d < 100", len(atrVals))}
	}

	atrNow := last(atrVals)
	atrMean := RollingMean(atrVals, 100)

	adaptive := false
	if hours, ok := a.state.HoursSinceLast(symbol); ok && hours > a.params.StarvationHours {
		adaptive = true
	}
	atrMinFactor, atrMaxFactor := a.params.StrictATRMinFactor, a.params.StrictATRMaxFactor
	volThreshold := a.params.StrictVolumeRatio
	if adaptive {
		atrMinFactor, atrMaxFactor = a.params.AdaptiveATRMinFactor, a.params.AdaptiveATRMaxFactor
		volThreshold = a.params.AdaptiveVolumeRatio
	}

	if atrNow < atrMinFactor*atrMean || atrNow > atrMaxFactor*atrMean {
		return nil, &Rejection{symbol, RejectATRBand,
			fmt.Sprintf("atr=%.6f mean=%.6f band=[%.2f, %.2f] adaptive=%v",
				atrNow, atrMean, atrMinFactor, atrMaxFactor, adaptive)}
	}

	volMA := RollingMean(baseVol, 20)
	volNow := baseVol[len(baseVol)-1]
	volRatio := 0.0
	if volMA > 0 {
		volRatio = volNow / volMA
	}
	if volRatio < volThreshold {
		return nil, &Rejection{symbol, RejectVolume,
			fmt.Sprintf("ratio=%.2f need>=%.2f adaptive=%v", volRatio, volThreshold, adaptive)}
	}

	closeNow := last(baseClose)
	prevHigh := baseHigh[len(baseHigh)-2]
	prevLow := baseLow[len(baseLow)-2]
	ema20Now := last(ema20)

	swingHigh, swingLow, err := FindLastSwing(baseHigh, baseLow, 40)
	if err != nil {
		return nil, fmt.Errorf("%s swings: %w", symbol, err)
	}

	var side types.Side
	sl := math.NaN()
	switch trend {
	case types.SideLong:
		// Pullback into the EMA20 band within the last three bars, then a
		// breakout above the prior bar's high.
		pulledBack := minTail(baseClose, 3) <= ema20Now || minTail(baseLow, 3) <= ema20Now
		if closeNow > ema20Now && closeNow >= prevHigh && pulledBack {
			side = types.SideLong
			anchor := swingLow
			if math.IsNaN(anchor) {
				anchor = closeNow - 1.5*atrNow
			}
			sl = anchor - 0.25*atrNow
		}
	case types.SideShort:
		pulledBack := maxTail(baseClose, 3) >= ema20Now || maxTail(baseHigh, 3) >= ema20Now
		if closeNow < ema20Now && closeNow <= prevLow && pulledBack {
			side = types.SideShort
			anchor := swingHigh
			if math.IsNaN(anchor) {
				anchor = closeNow + 1.5*atrNow
			}
			sl = anchor + 0.25*atrNow
		}
	}
	if side == "" || math.IsNaN(sl) {
		return nil, &Rejection{symbol, RejectStructure,
			fmt.Sprintf("trend=%s close=%.6f ema20=%.6f prev_high=%.6f prev_low=%.6f",
				trend, closeNow, ema20Now, prevHigh, prevLow)}
	}

	entryMid := closeNow
	var risk, tp1, tp2, tp3 float64
	if side == types.SideLong {
		risk = entryMid - sl
		tp1 = entryMid + 1.5*risk
		tp2 = entryMid + 2.5*risk
		tp3 = entryMid + 3.5*risk
	} else {
		risk = sl - entryMid
		tp1 = entryMid - 1.5*risk
		tp2 = entryMid - 2.5*risk
		tp3 = entryMid - 3.5*risk
	}
	riskReward := 0.0
	if risk != 0 {
		riskReward = math.Abs((tp1 - entryMid) / risk)
	}

	macd, macdSig := MACD(baseClose)

	cand := &types.SignalCandidate{
		Symbol:       symbol,
		Side:         side,
		Timeframe:    a.params.BaseTimeframe,
		HTFTimeframe: a.params.HTFTimeframe,
		EntryRange:   [2]float64{round6(entryMid - 0.25*atrNow), round6(entryMid + 0.25*atrNow)},
		TPLevels:     []float64{round6(tp1), round6(tp2), round6(tp3)},
		StopLoss:     round6(sl),
		Leverage:     a.params.Leverage,
		Strategy:     a.params.StrategyName,
		CreatedAt:    a.now().UTC(),
		Context: types.SignalContext{
			RSI:              RSI(baseClose, 14),
			ATRPct:           atrNow / closeNow,
			VolumeRatio:      volRatio,
			RiskReward:       riskReward,
			SwingHigh:        swingHigh,
			SwingLow:         swingLow,
			TrendLabel:       trendLabel(side, a.params.HTFTimeframe),
			MACD:             macd,
			MACDSignal:       macdSig,
			SpreadPct:        spreadPct(base),
			LiquidityBlocked: liquidityBlocked(closeNow, baseHigh, baseLow, atrNow, side),
			VolumeChangePct:  volumeChangePct(volNow, volMA),
		},
	}
	if err := cand.Validate(); err != nil {
		// A swing pivot beyond the close flips the stop to the wrong side.
		return nil, &Rejection{symbol, RejectSwingMissing, err.Error()}
	}

	a.state.Record(symbol, cand.CreatedAt)
	a.log.Debug().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("risk_reward", riskReward).
		Bool("adaptive", adaptive).
		Msg("candidate produced")
	return cand, nil
}

func splitOHLCV(candles []types.Candle) (closes, highs, lows, volumes []float64) {
	closes = make([]float64, len(candles))
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	volumes = make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	return
}

func trendLabel(side types.Side, htf string) string {
	if side == types.SideLong {
		return fmt.Sprintf("HTF %s Uptrend", htf)
	}
	return fmt.Sprintf("HTF %s Downtrend", htf)
}

// liquidityBlocked reports whether the entry sits within 0.4 ATR of the
// 12-bar extreme on the trade side, where resting liquidity tends to cap
// the move.
func liquidityBlocked(price float64, highs, lows []float64, atrNow float64, side types.Side) bool {
	buffer := 0.4 * atrNow
	if side == types.SideLong {
		return price+buffer >= maxTail(highs, 12)
	}
	return price-buffer <= minTail(lows, 12)
}

func spreadPct(candles []types.Candle) float64 {
	lastCandle := candles[len(candles)-1]
	if lastCandle.Close == 0 {
		return 0
	}
	return (lastCandle.High - lastCandle.Low) / lastCandle.Close
}

func volumeChangePct(volNow, volMA float64) float64 {
	if volMA == 0 {
		return 0
	}
	return (volNow - volMA) / volMA * 100
}

func last(series []float64) float64 {
	return series[len(series)-1]
}

func minTail(series []float64, n int) float64 {
	start := len(series) - n
	if start < 0 {
		start = 0
	}
	m := series[start]
	for _, v := range series[start+1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxTail(series []float64, n int) float64 {
	start := len(series) - n
	if start < 0 {
		start = 0
	}
	m := series[start]
	for _, v := range series[start+1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
