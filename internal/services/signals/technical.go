package signals

import (
	"context"
	"fmt"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/features"
)

// TechnicalConfig holds the fixed confidence of each trend bucket.
type TechnicalConfig struct {
	BuyConfidence  float64
	SellConfidence float64
	HoldConfidence float64
	MinBars        int
}

// Technical is the rule-based moving average producer. It prefers the
// indicators already computed for the tick and computes them itself when
// called stand-alone.
type Technical struct {
	cfg TechnicalConfig
}

func NewTechnical(cfg TechnicalConfig) *Technical {
	if cfg.MinBars <= 0 {
		cfg.MinBars = 50
	}
	return &Technical{cfg: cfg}
}

func (t *Technical) Evaluate(_ context.Context, _ string, series models.PriceSeries, mctx *models.MarketContext) models.Signal {
	var ind models.Indicators
	if mctx != nil && mctx.Indicators.Bars > 0 {
		ind = mctx.Indicators
	} else {
		ind = features.Compute(series)
	}
	if ind.Bars < t.cfg.MinBars || ind.SMA50 == 0 {
		return degradef(models.ProducerTechnical, "need %d bars, have %d", t.cfg.MinBars, ind.Bars)
	}

	action, conf, trend := models.ActionHold, t.cfg.HoldConfidence, "Neutral"
	switch {
	case ind.Price > ind.SMA20 && ind.SMA20 > ind.SMA50:
		action, conf, trend = models.ActionBuy, t.cfg.BuyConfidence, "Bullish"
	case ind.Price < ind.SMA20 && ind.SMA20 < ind.SMA50:
		action, conf, trend = models.ActionSell, t.cfg.SellConfidence, "Bearish"
	}

	rsiSignal := "Neutral"
	switch {
	case ind.RSI14 > 70:
		rsiSignal = "Overbought"
	case ind.RSI14 < 30:
		rsiSignal = "Oversold"
	}
	macdTrend := "Bearish"
	if ind.MACD > ind.MACDSignal {
		macdTrend = "Bullish"
	}

	return models.NewSignal(models.ProducerTechnical, action, conf, map[string]any{
		"sma_20":      ind.SMA20,
		"sma_50":      ind.SMA50,
		"rsi":         ind.RSI14,
		"rsi_signal":  rsiSignal,
		"macd":        ind.MACD,
		"macd_signal": ind.MACDSignal,
		"macd_trend":  macdTrend,
		"trend":       trend,
		"summary": fmt.Sprintf("Technical Analysis: %s. RSI: %.2f (%s), MACD: %s, Price: %.2f",
			trend, ind.RSI14, rsiSignal, macdTrend, ind.Price),
	})
}
