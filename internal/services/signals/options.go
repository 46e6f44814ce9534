package signals

import (
	"context"
	"fmt"
	"math"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/domain/repository"
)

// OptionFlowConfig holds the put/call ratio thresholds.
type OptionFlowConfig struct {
	BullishBelow float64
	BearishAbove float64
	// IVBand is the fraction of spot within which strikes feed the IV proxy.
	IVBand float64
}

func DefaultOptionFlowConfig() OptionFlowConfig {
	return OptionFlowConfig{BullishBelow: 0.8, BearishAbove: 1.2, IVBand: 0.05}
}

// OptionFlow reads positioning from the nearest expiry option chain.
type OptionFlow struct {
	cfg    OptionFlowConfig
	chains repository.OptionChainProvider
	prices repository.LastPriceProvider
}

func NewOptionFlow(cfg OptionFlowConfig, chains repository.OptionChainProvider, prices repository.LastPriceProvider) *OptionFlow {
	if cfg.BullishBelow <= 0 || cfg.BearishAbove <= cfg.BullishBelow {
		cfg = DefaultOptionFlowConfig()
	}
	if cfg.IVBand <= 0 {
		cfg.IVBand = 0.05
	}
	return &OptionFlow{cfg: cfg, chains: chains, prices: prices}
}

func (o *OptionFlow) Evaluate(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) models.Signal {
	var chain *models.OptionChain
	if mctx != nil && mctx.OptionChain != nil {
		chain = mctx.OptionChain
	} else if o.chains != nil {
		c, err := o.chains.OptionChain(ctx, symbol)
		if err != nil {
			return degradef(models.ProducerOptionFlow, "option chain: %v", err)
		}
		chain = c
	}
	if chain == nil || len(chain.Contracts) == 0 {
		return degradef(models.ProducerOptionFlow, "empty option chain")
	}

	spot := o.spot(ctx, symbol, series, mctx)
	a := AnalyzeChain(chain, spot, o.cfg.IVBand)
	if !a.Valid {
		return degradef(models.ProducerOptionFlow, "no call open interest")
	}

	action, sentiment, conf := models.ActionHold, "neutral", 0.5
	switch {
	case a.PutCallRatio < o.cfg.BullishBelow:
		action, sentiment = models.ActionBuy, "bullish"
		conf = math.Min(1, 0.5+math.Abs(a.PutCallRatio-1)/2)
	case a.PutCallRatio > o.cfg.BearishAbove:
		action, sentiment = models.ActionSell, "bearish"
		conf = math.Min(1, 0.5+math.Abs(a.PutCallRatio-1)/2)
	}

	return models.NewSignal(models.ProducerOptionFlow, action, conf, map[string]any{
		"put_call_ratio": a.PutCallRatio,
		"iv_proxy":       a.IVProxy,
		"max_pain":       a.MaxPain,
		"spot":           spot,
		"sentiment":      sentiment,
		"summary": fmt.Sprintf("Put/call ratio %.2f (%s), implied volatility %.2f, max pain %.2f",
			a.PutCallRatio, sentiment, a.IVProxy, a.MaxPain),
	})
}

// spot prefers the live quote and falls back to the latest close.
func (o *OptionFlow) spot(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) float64 {
	if mctx != nil && mctx.LastPrice > 0 {
		return mctx.LastPrice
	}
	if o.prices != nil {
		if p, err := o.prices.LastPrice(ctx, symbol); err == nil && p > 0 {
			return p
		}
	}
	return series.Last().Close
}

// ChainAnalysis summarizes an option chain.
type ChainAnalysis struct {
	PutCallRatio float64
	IVProxy      float64
	MaxPain      float64
	Valid        bool
}

// AnalyzeChain computes the put/call open interest ratio, the mean implied
// volatility of strikes within band of spot, and the max pain strike.
func AnalyzeChain(chain *models.OptionChain, spot, band float64) ChainAnalysis {
	var calls, puts float64
	for _, c := range chain.Contracts {
		calls += c.CallOI
		puts += c.PutOI
	}
	if calls <= 0 {
		return ChainAnalysis{}
	}
	out := ChainAnalysis{PutCallRatio: puts / calls, Valid: true}

	var ivSum float64
	var ivN int
	for _, c := range chain.Contracts {
		if spot <= 0 || math.Abs(c.Strike-spot)/spot > band {
			continue
		}
		for _, iv := range [...]float64{c.CallIV, c.PutIV} {
			if iv > 0 {
				ivSum += iv
				ivN++
			}
		}
	}
	if ivN > 0 {
		out.IVProxy = ivSum / float64(ivN)
	}

	out.MaxPain = maxPain(chain.Contracts)
	return out
}

// maxPain is the strike at which option writers pay out the least.
func maxPain(contracts []models.OptionContract) float64 {
	best, bestPayout := 0.0, math.Inf(1)
	for _, settle := range contracts {
		var payout float64
		for _, c := range contracts {
			if settle.Strike > c.Strike {
				payout += (settle.Strike - c.Strike) * c.CallOI
			}
			if settle.Strike < c.Strike {
				payout += (c.Strike - settle.Strike) * c.PutOI
			}
		}
		if payout < bestPayout {
			best, bestPayout = settle.Strike, payout
		}
	}
	return best
}
