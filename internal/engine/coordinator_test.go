package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pump-signal-bot/pkg/types"
)

type fakeMarket struct{ err error }

func (f *fakeMarket) GetKlines(context.Context, string, string, int) ([]types.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]types.Candle, 60), nil
}

type fakeChart struct {
	path string
	err  error
}

func (f *fakeChart) Generate(*types.SignalCandidate, []types.Candle) (string, error) {
	return f.path, f.err
}

type fakeQuality struct {
	err   error
	calls int
}

func (f *fakeQuality) Check(*types.SignalCandidate, types.MarketContext) error {
	f.calls++
	return f.err
}

type fakeThrottle struct {
	allow bool
	calls int
}

func (f *fakeThrottle) Allow(string, time.Duration) bool {
	f.calls++
	return f.allow
}

type fakeStore struct {
	saved []types.SignalRecord
	err   error
}

func (f *fakeStore) SaveSignal(rec types.SignalRecord) error {
	f.saved = append(f.saved, rec)
	return f.err
}

func (f *fakeStore) RecentSuccessRate(int) float64 { return 50 }

type fakeCSV struct {
	rows int
	err  error
}

func (f *fakeCSV) Append(*types.SignalCandidate, float64) error {
	f.rows++
	return f.err
}

type fakeNotify struct {
	sent int
	err  error
}

func (f *fakeNotify) BroadcastSignal(*types.SignalCandidate) error {
	f.sent++
	return f.err
}

type fakeSim struct {
	opened int
	err    error
}

func (f *fakeSim) OpenTrade(*types.SignalCandidate) error {
	f.opened++
	return f.err
}

type fakeRecorder struct{ recorded []string }

func (f *fakeRecorder) Record(symbol string, _ time.Time) {
	f.recorded = append(f.recorded, symbol)
}

type fixture struct {
	market   *fakeMarket
	chart    *fakeChart
	quality  *fakeQuality
	throttle *fakeThrottle
	store    *fakeStore
	csv      *fakeCSV
	notify   *fakeNotify
	sim      *fakeSim
	recorder *fakeRecorder
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		market:   &fakeMarket{},
		chart:    &fakeChart{path: "charts/chart_BTCUSDT_20250601_120000.png"},
		quality:  &fakeQuality{},
		throttle: &fakeThrottle{allow: true},
		store:    &fakeStore{},
		csv:      &fakeCSV{},
		notify:   &fakeNotify{},
		sim:      &fakeSim{},
		recorder: &fakeRecorder{},
	}
	f.coord = NewCoordinator(Deps{
		Market:    f.market,
		Chart:     f.chart,
		Quality:   f.quality,
		Throttle:  f.throttle,
		Store:     f.store,
		CSV:       f.csv,
		Notify:    f.notify,
		Sim:       f.sim,
		LastAdmit: f.recorder,
	}, 5*time.Minute, 1.2, zerolog.Nop())
	return f
}

func testCandidate() *types.SignalCandidate {
	return &types.SignalCandidate{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		Timeframe:  "15m",
		EntryRange: [2]float64{100, 100.5},
		TPLevels:   []float64{102, 103, 104},
		StopLoss:   99,
		CreatedAt:  time.Now().UTC(),
		Context: types.SignalContext{
			RSI:         55,
			ATRPct:      0.005,
			VolumeRatio: 1.6,
			RiskReward:  1.5,
			TrendLabel:  "HTF 1h Uptrend",
		},
	}
}

func TestAdmissionHappyPath(t *testing.T) {
	f := newFixture(t)
	cand := testCandidate()

	require.NoError(t, f.coord.OnCandidate(context.Background(), cand))

	assert.Equal(t, f.chart.path, cand.ChartPath)
	assert.Equal(t, 1, f.quality.calls)
	assert.Equal(t, 1, f.throttle.calls)
	require.Len(t, f.store.saved, 1)
	assert.Equal(t, "BTCUSDT", f.store.saved[0].Symbol)
	assert.InDelta(t, 100.25, f.store.saved[0].Price, 1e-9)
	assert.Equal(t, 1, f.csv.rows)
	assert.Equal(t, 1, f.notify.sent)
	assert.Equal(t, 1, f.sim.opened)
	assert.Equal(t, []string{"BTCUSDT"}, f.recorder.recorded)

	_, admitted, _ := f.coord.HealthSnapshot()
	assert.Equal(t, 1, admitted)
}

func TestChartFailureRejectsBeforeQuality(t *testing.T) {
	f := newFixture(t)
	f.chart.err = errors.New("render blew up")

	err := f.coord.OnCandidate(context.Background(), testCandidate())
	require.Error(t, err)
	assert.Zero(t, f.quality.calls)
	assert.Zero(t, f.throttle.calls)
	assert.Empty(t, f.store.saved)
	assert.Zero(t, f.notify.sent)

	_, _, rejections := f.coord.HealthSnapshot()
	assert.Equal(t, 1, rejections["chart_failed"])
}

func TestCandleFetchFailureIsChartFailure(t *testing.T) {
	f := newFixture(t)
	f.market.err = errors.New("timeout")

	require.Error(t, f.coord.OnCandidate(context.Background(), testCandidate()))
	_, _, rejections := f.coord.HealthSnapshot()
	assert.Equal(t, 1, rejections["chart_failed"])
}

func TestQualityRejectionStopsBeforeThrottle(t *testing.T) {
	f := newFixture(t)
	f.quality.err = errors.New("risk_reward too thin")

	require.Error(t, f.coord.OnCandidate(context.Background(), testCandidate()))
	assert.Zero(t, f.throttle.calls, "rejected candidates must not consume the cooldown")
	assert.Empty(t, f.store.saved)
	assert.Empty(t, f.recorder.recorded)
}

func TestThrottleRejection(t *testing.T) {
	f := newFixture(t)
	f.throttle.allow = false

	require.Error(t, f.coord.OnCandidate(context.Background(), testCandidate()))
	assert.Empty(t, f.store.saved)
	assert.Zero(t, f.notify.sent)
	assert.Zero(t, f.sim.opened)

	_, _, rejections := f.coord.HealthSnapshot()
	assert.Equal(t, 1, rejections["throttle"])
}

func TestDownstreamFailuresAreBestEffort(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("disk full")
	f.csv.err = errors.New("disk full")
	f.notify.err = errors.New("telegram down")

	require.NoError(t, f.coord.OnCandidate(context.Background(), testCandidate()))
	// The simulator still opens and the admission still counts.
	assert.Equal(t, 1, f.sim.opened)
	assert.Equal(t, []string{"BTCUSDT"}, f.recorder.recorded)
}

func TestCountRejectionFeedsHealth(t *testing.T) {
	f := newFixture(t)
	f.coord.CountRejection("no_htf_trend")
	f.coord.CountRejection("no_htf_trend")

	_, _, rejections := f.coord.HealthSnapshot()
	assert.Equal(t, 2, rejections["no_htf_trend"])
}
