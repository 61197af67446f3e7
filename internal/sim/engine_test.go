package sim

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-signal-bot/pkg/types"
)

// memStore is an in-memory TradeStore for engine tests.
type memStore struct {
	trades map[int64]*types.Trade
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{trades: make(map[int64]*types.Trade), nextID: 1}
}

func (m *memStore) TradeOpen(t *types.Trade) (int64, error) {
	cp := *t
	cp.ID = m.nextID
	m.nextID++
	m.trades[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) OpenTrades(symbol string) ([]types.Trade, error) {
	var out []types.Trade
	for _, t := range m.trades {
		if t.Status == types.TradeClosed {
			continue
		}
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *memStore) TradeMarkPartial(id int64, filled float64, status types.TradeStatus, lastPrice float64, ts time.Time) error {
	t, ok := m.trades[id]
	if !ok {
		return fmt.Errorf("trade %d not found", id)
	}
	t.FilledTP1Qty = filled
	t.Status = status
	t.LastPrice = lastPrice
	t.LastUpdate = ts
	return nil
}

func (m *memStore) TradeClose(id int64, lastPrice float64, ts time.Time, pnlUSD, pnlPct float64) error {
	t, ok := m.trades[id]
	if !ok {
		return fmt.Errorf("trade %d not found", id)
	}
	t.Status = types.TradeClosed
	t.ClosedAt = ts
	t.LastPrice = lastPrice
	t.LastUpdate = ts
	t.PnLUSD = pnlUSD
	t.PnLPct = pnlPct
	return nil
}

func (m *memStore) only(t *testing.T) *types.Trade {
	t.Helper()
	require.Len(t, m.trades, 1)
	for _, tr := range m.trades {
		return tr
	}
	return nil
}

func testConfig() Config {
	return Config{
		EquityUSD:   10000,
		RiskPct:     1.0,
		TP1RatioQty: 0.5,
		FeeBps:      8,
		BEOnTP1:     true,
	}
}

func longCandidate() *types.SignalCandidate {
	return &types.SignalCandidate{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		EntryRange: [2]float64{100, 100},
		TPLevels:   []float64{101.5, 102.5, 103.5},
		StopLoss:   99,
		CreatedAt:  time.Now().UTC(),
	}
}

func newTestEngine(store TradeStore) *Engine {
	return NewEngine(testConfig(), store, nil, zerolog.Nop())
}

func TestOpenTradeSizing(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	require.NoError(t, e.OpenTrade(longCandidate()))
	trade := store.only(t)

	// risk 100 USD against a 1.0 stop distance.
	assert.InDelta(t, 100.0, trade.Qty, 1e-9)
	assert.InDelta(t, 10000.0, trade.SizeUSD, 1e-9)
	assert.Equal(t, types.TradeOpen, trade.Status)
	assert.Zero(t, trade.FilledTP1Qty)
}

func TestOpenTradeRejectsSecondOnSymbol(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	require.NoError(t, e.OpenTrade(longCandidate()))
	err := e.OpenTrade(longCandidate())
	require.Error(t, err)
	assert.Len(t, store.trades, 1)
}

func TestOpenTradeRejectsZeroStopDistance(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	cand := longCandidate()
	cand.StopLoss = 100
	require.Error(t, e.OpenTrade(cand))
	assert.Empty(t, store.trades)
}

func TestLongTP1ThenTP2(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	require.NoError(t, e.OpenTrade(longCandidate()))

	require.NoError(t, e.OnTick("BTCUSDT", 101.5))
	trade := store.only(t)
	assert.Equal(t, types.TradePartial, trade.Status)
	assert.InDelta(t, 50.0, trade.FilledTP1Qty, 1e-9)

	require.NoError(t, e.OnTick("BTCUSDT", 102.5))
	trade = store.only(t)
	assert.Equal(t, types.TradeClosed, trade.Status)
	assert.False(t, trade.ClosedAt.IsZero())

	// TP1 leg: (101.5-100)*50 - (0.0008*100*50 + 0.0008*101.5*50) = 66.94
	// TP2 leg: (102.5-100)*50 - (0.0008*100*50 + 0.0008*102.5*50) = 116.90
	assert.InDelta(t, 183.84, trade.PnLUSD, 0.01)
	assert.InDelta(t, 183.84/10000*100, trade.PnLPct, 0.001)
}

func TestLongBreakEvenAfterTP1(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	require.NoError(t, e.OpenTrade(longCandidate()))

	require.NoError(t, e.OnTick("BTCUSDT", 101.5))
	require.NoError(t, e.OnTick("BTCUSDT", 99))

	trade := store.only(t)
	assert.Equal(t, types.TradeClosed, trade.Status)
	// TP1 leg 66.94; remainder closes at entry, realizing only the fees:
	// -(0.0008*100*50)*2 = -8.00.
	assert.InDelta(t, 58.94, trade.PnLUSD, 0.01)
}

func TestLongStopWithoutTP1IsFullLoss(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	require.NoError(t, e.OpenTrade(longCandidate()))

	require.NoError(t, e.OnTick("BTCUSDT", 99))
	trade := store.only(t)
	assert.Equal(t, types.TradeClosed, trade.Status)
	// (99-100)*100 - (0.0008*100*100 + 0.0008*99*100) = -115.92
	assert.InDelta(t, -115.92, trade.PnLUSD, 0.01)
}

func TestShortTP1ThenTP2Mirrored(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	cand := &types.SignalCandidate{
		Symbol:     "ETHUSDT",
		Side:       types.SideShort,
		EntryRange: [2]float64{100, 100},
		TPLevels:   []float64{98.5, 97.5, 96.5},
		StopLoss:   101,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, e.OpenTrade(cand))

	require.NoError(t, e.OnTick("ETHUSDT", 98.5))
	trade := store.only(t)
	assert.Equal(t, types.TradePartial, trade.Status)

	require.NoError(t, e.OnTick("ETHUSDT", 97.5))
	trade = store.only(t)
	assert.Equal(t, types.TradeClosed, trade.Status)

	// Mirrors the LONG case with exit notionals at 98.5/97.5.
	tp1Leg := (100-98.5)*50 - (0.0008*100*50 + 0.0008*98.5*50)
	tp2Leg := (100-97.5)*50 - (0.0008*100*50 + 0.0008*97.5*50)
	assert.InDelta(t, tp1Leg+tp2Leg, trade.PnLUSD, 0.01)
}

func TestTickIgnoresOtherSymbols(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	require.NoError(t, e.OpenTrade(longCandidate()))

	require.NoError(t, e.OnTick("ETHUSDT", 102.5))
	trade := store.only(t)
	assert.Equal(t, types.TradeOpen, trade.Status)
}

func TestPartialIsIdempotentWithinTP1Band(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	require.NoError(t, e.OpenTrade(longCandidate()))

	require.NoError(t, e.OnTick("BTCUSDT", 101.5))
	require.NoError(t, e.OnTick("BTCUSDT", 101.6))
	trade := store.only(t)
	assert.Equal(t, types.TradePartial, trade.Status)
	assert.InDelta(t, 50.0, trade.FilledTP1Qty, 1e-9)
}
