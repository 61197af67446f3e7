package filter

import (
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog"

	"pump-signal-bot/pkg/types"
)

// Thresholds are the quality gate limits.
type Thresholds struct {
	MinRSI               float64
	MaxRSI               float64
	MinRiskReward        float64
	MinATRPct            float64
	MaxSpreadPct         float64
	VolumeSpikeThreshold float64
	MinSuccessRate       float64
}

// DefaultThresholds mirror the relaxed midterm gate.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinRSI:               30,
		MaxRSI:               70,
		MinRiskReward:        1.2,
		MinATRPct:            7.5e-5,
		MaxSpreadPct:         0.01,
		VolumeSpikeThreshold: 1.2,
		MinSuccessRate:       25,
	}
}

// Rejection reports which mandatory check failed and the offending value.
type Rejection struct {
	Reason string
	Value  float64
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("quality gate %s (value=%g)", r.Reason, r.Value)
}

// Quality is the centralized admission predicate over a candidate and its
// market context. Mandatory failures block the signal; soft checks only log.
type Quality struct {
	thresholds Thresholds
	log        zerolog.Logger
}

func New(thresholds Thresholds, logger zerolog.Logger) *Quality {
	return &Quality{
		thresholds: thresholds,
		log:        logger.With().Str("component", "quality_filter").Logger(),
	}
}

// Check returns nil when the candidate may be admitted, or a *Rejection
// naming the first mandatory check that failed.
func (q *Quality) Check(cand *types.SignalCandidate, mctx types.MarketContext) error {
	if mctx.Price <= 0 {
		return &Rejection{"price", mctx.Price}
	}
	if !mctx.TrendOK {
		return &Rejection{"trend", 0}
	}
	if !math.IsNaN(mctx.RSI) && (mctx.RSI < q.thresholds.MinRSI || mctx.RSI > q.thresholds.MaxRSI) {
		return &Rejection{"rsi", mctx.RSI}
	}
	if mctx.RiskReward < q.thresholds.MinRiskReward {
		return &Rejection{"risk_reward", mctx.RiskReward}
	}
	if mctx.ATRValue/mctx.Price < q.thresholds.MinATRPct {
		return &Rejection{"atr_pct", mctx.ATRValue / mctx.Price}
	}
	if mctx.LiquidityBlocked {
		return &Rejection{"liquidity", 0}
	}
	if mctx.SpreadPct > q.thresholds.MaxSpreadPct {
		return &Rejection{"spread", mctx.SpreadPct}
	}
	if cand.ChartPath == "" {
		return &Rejection{"chart_missing", 0}
	}
	if _, err := os.Stat(cand.ChartPath); err != nil {
		return &Rejection{"chart_unreadable", 0}
	}

	// Soft checks: logged, never blocking.
	if !mctx.VolumeSpike {
		q.log.Debug().
			Str("symbol", cand.Symbol).
			Float64("volume_change_pct", mctx.VolumeChangePct).
			Float64("need", q.thresholds.VolumeSpikeThreshold).
			Msg("volume spike below threshold")
	}
	if mctx.SuccessRate < q.thresholds.MinSuccessRate {
		q.log.Debug().
			Str("symbol", cand.Symbol).
			Float64("success_rate", mctx.SuccessRate).
			Float64("need", q.thresholds.MinSuccessRate).
			Msg("rolling success rate below threshold")
	}
	return nil
}
