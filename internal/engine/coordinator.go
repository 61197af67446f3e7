package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pump-signal-bot/internal/filter"
	"pump-signal-bot/pkg/types"
)

const successRateWindow = 30

// MarketData supplies the candles the chart renderer draws.
type MarketData interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
}

// ChartRenderer is the mandatory artifact producer.
type ChartRenderer interface {
	Generate(cand *types.SignalCandidate, candles []types.Candle) (string, error)
}

// QualityGate decides admission from candidate plus market context.
type QualityGate interface {
	Check(cand *types.SignalCandidate, mctx types.MarketContext) error
}

// ThrottleGate enforces the per-symbol cooldown.
type ThrottleGate interface {
	Allow(symbol string, cooldown time.Duration) bool
}

// SignalStore persists admitted signals and feeds the success-rate soft
// check.
type SignalStore interface {
	SaveSignal(rec types.SignalRecord) error
	RecentSuccessRate(limit int) float64
}

// CSVAppender writes the daily signal row.
type CSVAppender interface {
	Append(cand *types.SignalCandidate, score float64) error
}

// ChatNotifier delivers the admitted signal to the chat channel.
type ChatNotifier interface {
	BroadcastSignal(cand *types.SignalCandidate) error
}

// TradeOpener hands the admitted signal to the simulator.
type TradeOpener interface {
	OpenTrade(cand *types.SignalCandidate) error
}

// AdmitRecorder resets the adaptive-sensitivity clock.
type AdmitRecorder interface {
	Record(symbol string, ts time.Time)
}

// Coordinator chains chart rendering, the quality gate, the throttle and the
// fan-out side effects for every analyzer candidate: it persists the signal,
// appends the CSV row, notifies the chat and opens the simulated trade.
type Coordinator struct {
	market       MarketData
	chart        ChartRenderer
	quality      QualityGate
	throttle     ThrottleGate
	store        SignalStore
	csv          CSVAppender
	notify       ChatNotifier
	sim          TradeOpener
	lastAdmit    AdmitRecorder
	cooldown     time.Duration
	spikeMinimum float64
	log          zerolog.Logger
	now          func() time.Time

	mu         sync.Mutex
	startedAt  time.Time
	admitted   int
	rejections map[string]int
}

// Deps bundles the coordinator collaborators.
type Deps struct {
	Market    MarketData
	Chart     ChartRenderer
	Quality   QualityGate
	Throttle  ThrottleGate
	Store     SignalStore
	CSV       CSVAppender
	Notify    ChatNotifier
	Sim       TradeOpener
	LastAdmit AdmitRecorder
}

func NewCoordinator(deps Deps, cooldown time.Duration, spikeMinimum float64, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		market:       deps.Market,
		chart:        deps.Chart,
		quality:      deps.Quality,
		throttle:     deps.Throttle,
		store:        deps.Store,
		csv:          deps.CSV,
		notify:       deps.Notify,
		sim:          deps.Sim,
		lastAdmit:    deps.LastAdmit,
		cooldown:     cooldown,
		spikeMinimum: spikeMinimum,
		log:          logger.With().Str("component", "coordinator").Logger(),
		now:          time.Now,
		startedAt:    time.Now().UTC(),
		rejections:   make(map[string]int),
	}
}

// OnCandidate runs the admission chain. A nil return means the signal was
// admitted; rejections come back as errors after being counted and logged.
func (c *Coordinator) OnCandidate(ctx context.Context, cand *types.SignalCandidate) error {
	mid := cand.EntryMid()

	// The chart artifact is mandatory: no chart, no signal.
	candles, err := c.market.GetKlines(ctx, cand.Symbol, cand.Timeframe, 60)
	if err != nil {
		return c.reject(cand, "chart_failed", err)
	}
	chartPath, err := c.chart.Generate(cand, candles)
	if err != nil || chartPath == "" {
		return c.reject(cand, "chart_failed", err)
	}
	cand.ChartPath = chartPath

	mctx := types.MarketContext{
		Price:            mid,
		RSI:              cand.Context.RSI,
		ATRValue:         cand.Context.ATRPct * mid,
		RiskReward:       cand.Context.RiskReward,
		VolumeChangePct:  cand.Context.VolumeChangePct,
		SpreadPct:        cand.Context.SpreadPct,
		LiquidityBlocked: cand.Context.LiquidityBlocked,
		TrendOK:          cand.Context.TrendLabel != "",
		VolumeSpike:      cand.Context.VolumeRatio >= c.spikeMinimum,
		SuccessRate:      c.store.RecentSuccessRate(successRateWindow),
	}

	if err := c.quality.Check(cand, mctx); err != nil {
		var rej *filter.Rejection
		if errors.As(err, &rej) {
			return c.rejectValue(cand, "quality_"+rej.Reason, rej.Value)
		}
		return c.reject(cand, "quality", err)
	}

	if !c.throttle.Allow(cand.Symbol, c.cooldown) {
		return c.rejectValue(cand, "throttle", c.cooldown.Minutes())
	}

	// Persistence, notification and the simulated open are independent
	// best-effort steps: a downstream failure never un-admits the signal.
	score := cand.Context.RiskReward
	if err := c.store.SaveSignal(types.SignalRecord{
		Symbol:      cand.Symbol,
		Price:       mid,
		Volume:      cand.Context.VolumeChangePct,
		Score:       score,
		RSI:         nanToZero(cand.Context.RSI),
		MACD:        cand.Context.MACD,
		MACDSignal:  cand.Context.MACDSignal,
		VolumeSpike: cand.Context.VolumeRatio,
		Timestamp:   cand.CreatedAt,
	}); err != nil {
		c.log.Error().Err(err).Str("symbol", cand.Symbol).Msg("signal persist failed")
	}
	if err := c.csv.Append(cand, score); err != nil {
		c.log.Error().Err(err).Str("symbol", cand.Symbol).Msg("daily csv append failed")
	}
	if err := c.notify.BroadcastSignal(cand); err != nil {
		c.log.Error().Err(err).Str("symbol", cand.Symbol).Msg("signal notification failed")
	}
	if err := c.sim.OpenTrade(cand); err != nil {
		c.log.Error().Err(err).Str("symbol", cand.Symbol).Msg("simulator open failed")
	}

	c.lastAdmit.Record(cand.Symbol, c.now().UTC())
	c.mu.Lock()
	c.admitted++
	c.mu.Unlock()
	c.log.Info().
		Str("symbol", cand.Symbol).
		Str("side", string(cand.Side)).
		Float64("risk_reward", cand.Context.RiskReward).
		Str("chart", chartPath).
		Msg("signal admitted")
	return nil
}

// CountRejection folds analyzer-side rejections into the health counters.
func (c *Coordinator) CountRejection(reason string) {
	c.count(reason)
}

// HealthSnapshot returns uptime anchor plus admission counters.
func (c *Coordinator) HealthSnapshot() (time.Time, int, map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rejections := make(map[string]int, len(c.rejections))
	for k, v := range c.rejections {
		rejections[k] = v
	}
	return c.startedAt, c.admitted, rejections
}

func (c *Coordinator) reject(cand *types.SignalCandidate, reason string, cause error) error {
	c.count(reason)
	evt := c.log.Warn().Str("symbol", cand.Symbol).Str("reason", reason)
	if cause != nil {
		evt = evt.Err(cause)
	}
	evt.Msg("candidate rejected")
	if cause != nil {
		return cause
	}
	return errors.New(reason)
}

func (c *Coordinator) rejectValue(cand *types.SignalCandidate, reason string, value float64) error {
	c.count(reason)
	c.log.Warn().
		Str("symbol", cand.Symbol).
		Str("reason", reason).
		Float64("value", value).
		Msg("candidate rejected")
	return errors.New(reason)
}

func (c *Coordinator) count(reason string) {
	c.mu.Lock()
	c.rejections[reason]++
	c.mu.Unlock()
}

func nanToZero(v float64) float64 {
	if v != v {
		return 0
	}
	return v
}
