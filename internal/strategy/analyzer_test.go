package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-signal-bot/internal/state"
	"pump-signal-bot/pkg/types"
)

type stubMarket struct {
	base []types.Candle
	htf  []types.Candle
	err  error
}

func (m *stubMarket) GetKlines(_ context.Context, _ string, interval string, _ int) ([]types.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	if interval == "1h" {
		return m.htf, nil
	}
	return m.base, nil
}

func candle(open, high, low, closePrice, volume float64) types.Candle {
	return types.Candle{Open: open, High: high, Low: low, Close: closePrice, Volume: volume}
}

// uptrendHTF climbs steadily so close > EMA20 > EMA50 > EMA100 at the tail.
func uptrendHTF() []types.Candle {
	out := make([]types.Candle, 150)
	for i := range out {
		c := 100 + 0.5*float64(i)
		out[i] = candle(c-0.4, c+0.6, c-0.6, c, 500)
	}
	return out
}

// flatHTF keeps every EMA glued together: no classifiable trend.
func flatHTF() []types.Candle {
	out := make([]types.Candle, 150)
	for i := range out {
		out[i] = candle(100, 100.2, 99.8, 100, 500)
	}
	return out
}

// bullishBase is a gentle uptrend with a two-bar pullback into the EMA20
// band and a breakout bar on doubled volume. The pullback bar forms a
// five-bar pivot low so the stop anchors on a swing.
func bullishBase(lastVolume float64) []types.Candle {
	out := make([]types.Candle, 0, 150)
	for i := 0; i < 147; i++ {
		c := 100 + 0.05*float64(i)
		out = append(out, candle(c-0.05, c+0.3, c-0.3, c, 100))
	}
	last := 100 + 0.05*146 // 107.3
	d1 := last - 0.5       // pullback close 106.8
	out = append(out, candle(last, d1+0.2, d1-0.6, d1, 100)) // pivot low at 106.2
	d2 := d1 + 0.1
	out = append(out, candle(d1, d2+0.3, d1-0.2, d2, 100))
	breakout := d2 + 0.9 // 107.8, above the prior high of 107.2
	out = append(out, candle(d2, breakout+0.2, d2-0.1, breakout, lastVolume))
	return out
}

func newTestAnalyzer(market MarketData, last *state.LastSignal) *Analyzer {
	return NewAnalyzer(market, last, DefaultParams(), zerolog.Nop())
}

func TestAnalyzeLongAdmission(t *testing.T) {
	market := &stubMarket{base: bullishBase(200), htf: uptrendHTF()}
	last := state.NewLastSignal()
	a := newTestAnalyzer(market, last)

	cand, err := a.Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, types.SideLong, cand.Side)
	assert.Equal(t, "15m", cand.Timeframe)
	assert.Equal(t, "1h", cand.HTFTimeframe)
	require.NoError(t, cand.Validate())

	// Entry range is centered on the breakout close.
	assert.InDelta(t, 107.8, cand.EntryMid(), 1e-6)
	// Stop anchors on the pivot low minus the ATR pad.
	assert.InDelta(t, 106.2, cand.Context.SwingLow, 1e-9)
	assert.Less(t, cand.StopLoss, 106.2)
	// Targets ladder at 1.5R / 2.5R / 3.5R.
	risk := cand.EntryMid() - cand.StopLoss
	assert.InDelta(t, cand.EntryMid()+1.5*risk, cand.TPLevels[0], 1e-4)
	assert.InDelta(t, cand.EntryMid()+2.5*risk, cand.TPLevels[1], 1e-4)
	assert.InDelta(t, cand.EntryMid()+3.5*risk, cand.TPLevels[2], 1e-4)
	assert.InDelta(t, 1.5, cand.Context.RiskReward, 1e-9)
	assert.Equal(t, "HTF 1h Uptrend", cand.Context.TrendLabel)

	// Emission resets the adaptive clock.
	_, recorded := last.Last("BTCUSDT")
	assert.True(t, recorded)
}

func TestAnalyzeSidewaysRejected(t *testing.T) {
	market := &stubMarket{base: bullishBase(200), htf: flatHTF()}
	last := state.NewLastSignal()
	a := newTestAnalyzer(market, last)

	_, err := a.Analyze(context.Background(), "BTCUSDT")
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectNoHTFTrend, rej.Reason)

	_, recorded := last.Last("BTCUSDT")
	assert.False(t, recorded)
}

func TestAnalyzeInsufficientHistory(t *testing.T) {
	market := &stubMarket{base: bullishBase(200)[:50], htf: uptrendHTF()}
	a := newTestAnalyzer(market, state.NewLastSignal())

	_, err := a.Analyze(context.Background(), "BTCUSDT")
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectInsufficientHistory, rej.Reason)
}

func TestAnalyzeVolumeAdaptiveRelaxation(t *testing.T) {
	// Volume ratio lands around 1.30: below the strict 1.5 threshold but
	// above the relaxed 1.2 one.
	market := &stubMarket{base: bullishBase(132.2), htf: uptrendHTF()}
	last := state.NewLastSignal()
	a := newTestAnalyzer(market, last)

	_, err := a.Analyze(context.Background(), "XUSDT")
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectVolume, rej.Reason)

	// Five hours without an admission switches the thresholds.
	last.Record("XUSDT", time.Now().UTC().Add(-5*time.Hour))
	cand, err := a.Analyze(context.Background(), "XUSDT")
	require.NoError(t, err)
	assert.Equal(t, types.SideLong, cand.Side)
}

func TestAnalyzeFetchErrorPropagates(t *testing.T) {
	boom := errors.New("binance down")
	a := newTestAnalyzer(&stubMarket{err: boom}, state.NewLastSignal())

	_, err := a.Analyze(context.Background(), "BTCUSDT")
	require.Error(t, err)
	var rej *Rejection
	assert.False(t, errors.As(err, &rej))
	assert.ErrorIs(t, err, boom)
}
