package features

import (
	"math"
	"testing"
	"time"

	"TradeLoop/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(closes ...float64) models.PriceSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(models.PriceSeries, len(closes))
	for i, c := range closes {
		out[i] = models.PriceBar{Time: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000 + float64(i)}
	}
	return out
}

func ramp(n int, from, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}

func TestComputeLogReturns(t *testing.T) {
	r := ComputeLogReturns([]float64{100, 110, 0, 121})
	require.Len(t, r, 3)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Equal(t, 0.0, r[1])
	assert.Equal(t, 0.0, r[2])
	assert.Nil(t, ComputeLogReturns([]float64{1}))
}

func TestSMA(t *testing.T) {
	assert.Equal(t, 4.0, SMA([]float64{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, 0.0, SMA([]float64{1, 2}, 3))
}

func TestRSIExtremes(t *testing.T) {
	assert.Equal(t, 100.0, RSI(ramp(30, 100, 1), 14))
	assert.Equal(t, 0.0, RSI(ramp(30, 100, -1), 14))
	assert.Equal(t, 50.0, RSI(ramp(30, 100, 0), 14))
	assert.Equal(t, 0.0, RSI(ramp(10, 100, 1), 14), "short history")
}

func TestEMASeriesShort(t *testing.T) {
	assert.Nil(t, EMASeries([]float64{1, 2}, 3))
	e := EMASeries([]float64{1, 2, 3, 4}, 3)
	require.Len(t, e, 4)
	assert.InDelta(t, 2.0, e[2], 1e-12)
	assert.InDelta(t, 3.0, e[3], 1e-12)
}

func TestMACDSignOnTrend(t *testing.T) {
	macd, _ := MACD(ramp(60, 100, 1), 12, 26, 9)
	assert.Greater(t, macd, 0.0)
	macd, _ = MACD(ramp(60, 200, -1), 12, 26, 9)
	assert.Less(t, macd, 0.0)
}

func TestCompute(t *testing.T) {
	ind := Compute(series(ramp(60, 100, 1)...))
	assert.Equal(t, 60, ind.Bars)
	assert.Equal(t, 159.0, ind.Price)
	assert.InDelta(t, 149.5, ind.SMA20, 1e-9)
	assert.InDelta(t, 134.5, ind.SMA50, 1e-9)
	// a linear ramp lags both averages by a constant, so the MACD line settles at (26-12)/2
	assert.InDelta(t, 7.0, ind.MACD, 1e-6)
	assert.InDelta(t, 159.0-5.5, ind.EMA12, 1e-6)

	accel := make([]float64, 60)
	for i := range accel {
		accel[i] = 100 + float64(i*i)/10
	}
	ind = Compute(series(accel...))
	assert.Greater(t, ind.MACD, ind.MACDSignal)

	short := Compute(series(ramp(20, 100, 1)...))
	assert.Zero(t, short.SMA50)
	assert.Zero(t, short.MACD)
}

func TestFeatureVector(t *testing.T) {
	fv := FeatureVector(series(ramp(25, 100, 1)...))
	assert.Contains(t, fv, "ma_20")
	assert.NotContains(t, fv, "ma_50")
	assert.InDelta(t, 124.0/123.0-1, fv["returns"], 1e-12)
	assert.Equal(t, 2.0, fv["daily_range"])
	assert.Contains(t, fv, "momentum_10")
}

func TestNormalizedWindow(t *testing.T) {
	w, ok := NormalizedWindow(series(10, 20, 30, 40, 50), 3)
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, 0.75, 1}, w)

	_, ok = NormalizedWindow(series(1, 2), 3)
	assert.False(t, ok)
}
