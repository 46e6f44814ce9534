package features

import (
	"fmt"
	"math"

	"TradeLoop/internal/domain/models"

	"github.com/markcheno/go-talib"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(closes)-1, or nil if insufficient data.
func ComputeLogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// PctChange returns simple returns over the given period for the latest bar.
func PctChange(values []float64, period int) (float64, bool) {
	n := len(values)
	if period <= 0 || n <= period || values[n-1-period] == 0 {
		return 0, false
	}
	return values[n-1]/values[n-1-period] - 1, true
}

// StdDev is the sample standard deviation of the last window values.
func StdDev(values []float64, window int) float64 {
	if window <= 1 || len(values) < window {
		return 0
	}
	sum, sum2 := 0.0, 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
		sum2 += v * v
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// RealizedVolatility computes annualized volatility over the latest window.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	return StdDev(logReturns, window) * math.Sqrt(barsPerYear)
}

// SMA is the simple moving average of the last window values, 0 when short.
func SMA(values []float64, window int) float64 {
	if window <= 0 || len(values) < window {
		return 0
	}
	return last(talib.Sma(values, window))
}

// EMASeries returns the exponential moving average seeded with the SMA of
// the first span values; entries before that are zero. nil when short.
func EMASeries(values []float64, span int) []float64 {
	if span <= 0 || len(values) < span {
		return nil
	}
	return talib.Ema(values, span)
}

// RSI is Wilder's relative strength index over period, 0 when short and 50
// for a series that never moved.
func RSI(closes []float64, period int) float64 {
	if period < 2 || len(closes) <= period {
		return 0
	}
	if flat(closes) {
		return 50
	}
	return last(talib.Rsi(closes, period))
}

// MACD returns the MACD line and its signal line for the latest bar, zeros
// until slow+signal bars are available.
func MACD(closes []float64, fast, slow, signal int) (float64, float64) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return 0, 0
	}
	line, sig, _ := talib.Macd(closes, fast, slow, signal)
	return last(line), last(sig)
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}

func flat(v []float64) bool {
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

// Compute derives the indicator set for the latest bar of series.
func Compute(series models.PriceSeries) models.Indicators {
	closes := series.Closes()
	ind := models.Indicators{Bars: len(series)}
	if len(closes) == 0 {
		return ind
	}
	ind.Price = closes[len(closes)-1]
	ind.SMA20 = SMA(closes, 20)
	ind.SMA50 = SMA(closes, 50)
	if ema := EMASeries(closes, 12); len(ema) > 0 {
		ind.EMA12 = ema[len(ema)-1]
	}
	if ema := EMASeries(closes, 26); len(ema) > 0 {
		ind.EMA26 = ema[len(ema)-1]
	}
	ind.RSI14 = RSI(closes, 14)
	ind.MACD, ind.MACDSignal = MACD(closes, 12, 26, 9)
	ind.Volatility = RealizedVolatility(ComputeLogReturns(closes), 20, 252)
	return ind
}

// FeatureVector builds the engineered features of the latest bar for the
// statistical model. Features whose window exceeds the history are omitted.
func FeatureVector(series models.PriceSeries) map[string]float64 {
	closes := series.Closes()
	n := len(series)
	out := make(map[string]float64)
	if n < 2 {
		return out
	}

	volumes := make([]float64, n)
	for i, b := range series {
		volumes[i] = b.Volume
	}
	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if closes[i-1] != 0 {
			returns = append(returns, closes[i]/closes[i-1]-1)
		}
	}
	last := series[n-1]
	prev := series[n-2]

	if r, ok := PctChange(closes, 1); ok {
		out["returns"] = r
	}
	if lr := ComputeLogReturns(closes); len(lr) > 0 {
		out["log_returns"] = lr[len(lr)-1]
	}
	for _, w := range []int{5, 10, 20, 50} {
		if ma := SMA(closes, w); ma > 0 {
			out[fmt.Sprintf("ma_%d", w)] = ma
			out[fmt.Sprintf("ma_ratio_%d", w)] = last.Close / ma
		}
	}
	for _, w := range []int{5, 10, 20} {
		if len(returns) >= w {
			out[fmt.Sprintf("volatility_%d", w)] = StdDev(returns, w)
		}
	}
	for _, p := range []int{1, 3, 5, 10} {
		if m, ok := PctChange(closes, p); ok {
			out[fmt.Sprintf("momentum_%d", p)] = m
		}
	}
	if v, ok := PctChange(volumes, 1); ok {
		out["volume_change"] = v
	}
	if ma := SMA(volumes, 5); ma > 0 {
		out["volume_ma_5"] = ma
		out["volume_ratio"] = last.Volume / ma
	}
	if ma := SMA(volumes, 10); ma > 0 {
		out["volume_ma_10"] = ma
	}
	out["daily_range"] = last.High - last.Low
	if last.Close > 0 {
		out["daily_range_pct"] = (last.High - last.Low) / last.Close
	}
	out["gap"] = last.Open - prev.Close
	if prev.Close > 0 {
		out["gap_pct"] = (last.Open - prev.Close) / prev.Close
	}
	return out
}

// NormalizedWindow min-max scales the closes of the whole series to [0,1]
// and returns the trailing window. ok is false when history is short.
func NormalizedWindow(series models.PriceSeries, window int) ([]float64, bool) {
	if window <= 0 || len(series) < window {
		return nil, false
	}
	closes := series.Closes()
	lo, hi := closes[0], closes[0]
	for _, c := range closes {
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
	}
	out := make([]float64, window)
	span := hi - lo
	for i, c := range closes[len(closes)-window:] {
		if span == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (c - lo) / span
	}
	return out, true
}
