package strategy

import (
	"errors"
	"math"
)

// ErrLengthMismatch is returned when parallel OHLCV series disagree in length.
var ErrLengthMismatch = errors.New("series length mismatch")

// EMA returns the exponential moving average of series with smoothing
// k = 2/(period+1), seeded with the first sample. The result has the same
// length as the input.
func EMA(series []float64, period int) []float64 {
	if period <= 0 || len(series) == 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(series))
	prev := series[0]
	out[0] = prev
	for i := 1; i < len(series); i++ {
		prev = series[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// SMA returns the simple average of the last period samples.
func SMA(series []float64, period int) float64 {
	if len(series) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(series) - period; i < len(series); i++ {
		sum += series[i]
	}
	return sum / float64(period)
}

// RollingMean averages the trailing window of up to period samples.
func RollingMean(series []float64, period int) float64 {
	if len(series) == 0 || period <= 0 {
		return 0
	}
	start := len(series) - period
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, v := range series[start:] {
		sum += v
	}
	return sum / float64(len(series)-start)
}

// RSI computes the relative strength index with Wilder smoothing. Returns NaN
// when fewer than period+1 samples are available.
func RSI(series []float64, period int) float64 {
	if len(series) < period+1 || period <= 0 {
		return math.NaN()
	}
	gains := make([]float64, 0, len(series)-1)
	losses := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		delta := series[i] - series[i-1]
		if delta >= 0 {
			gains = append(gains, delta)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -delta)
		}
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR computes the average true range as EMA(TrueRange, period). The true
// range at index i compares against the previous close.
func ATR(highs, lows, closes []float64, period int) ([]float64, error) {
	if len(highs) != len(lows) || len(highs) != len(closes) {
		return nil, ErrLengthMismatch
	}
	if len(highs) == 0 {
		return nil, nil
	}
	trs := make([]float64, len(highs))
	prevClose := closes[0]
	for i := range highs {
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - prevClose); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - prevClose); lc > tr {
			tr = lc
		}
		trs[i] = tr
		prevClose = closes[i]
	}
	return EMA(trs, period), nil
}

// MACD returns the last MACD(12,26,9) line and signal values.
func MACD(series []float64) (macd, signal float64) {
	if len(series) < 26 {
		return 0, 0
	}
	ema12 := EMA(series, 12)
	ema26 := EMA(series, 26)
	line := make([]float64, len(series))
	for i := range series {
		line[i] = ema12[i] - ema26[i]
	}
	sig := EMA(line, 9)
	return line[len(line)-1], sig[len(sig)-1]
}

// VolumeRatio compares the latest volume against the trailing window mean.
func VolumeRatio(volumes []float64, window int) float64 {
	if len(volumes) == 0 {
		return 0
	}
	ma := RollingMean(volumes, window)
	if ma == 0 {
		return 0
	}
	return volumes[len(volumes)-1] / ma
}

func isPivotHigh(highs []float64, idx int) bool {
	return idx >= 2 && idx+2 < len(highs) &&
		highs[idx] > highs[idx-1] && highs[idx] > highs[idx-2] &&
		highs[idx] > highs[idx+1] && highs[idx] > highs[idx+2]
}

func isPivotLow(lows []float64, idx int) bool {
	return idx >= 2 && idx+2 < len(lows) &&
		lows[idx] < lows[idx-1] && lows[idx] < lows[idx-2] &&
		lows[idx] < lows[idx+1] && lows[idx] < lows[idx+2]
}

// FindLastSwing returns the most recent five-bar pivot high and pivot low
// within the lookback window. Absent pivots are NaN.
func FindLastSwing(highs, lows []float64, lookback int) (swingHigh, swingLow float64, err error) {
	if len(highs) != len(lows) {
		return math.NaN(), math.NaN(), ErrLengthMismatch
	}
	swingHigh = math.NaN()
	swingLow = math.NaN()
	start := len(highs) - lookback
	if start < 2 {
		start = 2
	}
	for i := len(highs) - 1; i >= start; i-- {
		if math.IsNaN(swingHigh) && isPivotHigh(highs, i) {
			swingHigh = highs[i]
		}
		if math.IsNaN(swingLow) && isPivotLow(lows, i) {
			swingLow = lows[i]
		}
		if !math.IsNaN(swingHigh) && !math.IsNaN(swingLow) {
			break
		}
	}
	return swingHigh, swingLow, nil
}
