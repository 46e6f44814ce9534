package signals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/domain/service"
)

const analystSystemPrompt = "You are a professional stock market analyst. " +
	"Give a concise, evidence based trading recommendation for the instrument described. " +
	"Answer with a single JSON object."

const analystFormat = `Respond in this JSON format:
{
  "recommendation": "BUY" | "SELL" | "HOLD",
  "confidence": <number between 0 and 1>,
  "factors": ["<key factor>", ...],
  "risks": ["<risk>", ...],
  "price_target": "<price or range>",
  "analysis": "<two or three sentences>"
}`

// Analyst is the language model producer. It runs after the other
// producers so their outputs can be summarized in the prompt.
type Analyst struct {
	llm   service.ReasoningService
	now   func() time.Time
	bars  int
	heads int
}

func NewAnalyst(llm service.ReasoningService) *Analyst {
	return &Analyst{llm: llm, now: time.Now, bars: 5, heads: 3}
}

func (a *Analyst) Evaluate(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) models.Signal {
	if len(series) == 0 {
		return degradef(models.ProducerLanguageModel, "no price history")
	}
	text, err := a.llm.Complete(ctx, a.Prompt(symbol, series, mctx))
	if err != nil {
		return degradef(models.ProducerLanguageModel, "reasoning service: %v", err)
	}

	r := ParseAnalystResponse(text)
	meta := map[string]any{
		"factors":    r.Factors,
		"risks":      r.Risks,
		"analysis":   r.Analysis,
		"structured": r.Structured,
	}
	if r.PriceTarget != "" {
		meta["price_target"] = r.PriceTarget
	}
	return models.NewSignal(models.ProducerLanguageModel, r.Recommendation, r.Confidence, meta)
}

// Prompt renders the analyst request.
func (a *Analyst) Prompt(symbol string, series models.PriceSeries, mctx *models.MarketContext) service.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze %s as of %s.\n\n", symbol, a.now().Format("2006-01-02"))

	b.WriteString("Recent price action:\n")
	for _, bar := range series.Tail(a.bars) {
		fmt.Fprintf(&b, "- %s O:%.2f H:%.2f L:%.2f C:%.2f V:%.0f\n",
			bar.Time.Format("2006-01-02"), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}

	if mctx != nil && mctx.Indicators.Bars > 0 {
		ind := mctx.Indicators
		fmt.Fprintf(&b, "\nTechnical indicators:\n- SMA20: %.2f\n- SMA50: %.2f\n- RSI14: %.2f\n- MACD: %.4f (signal %.4f)\n- Annualized volatility: %.2f%%\n",
			ind.SMA20, ind.SMA50, ind.RSI14, ind.MACD, ind.MACDSignal, ind.Volatility*100)
	}
	if s, ok := mctx.Signal(models.ProducerTechnical); ok && !s.Degraded() {
		if summary, ok := s.Metadata["summary"].(string); ok {
			fmt.Fprintf(&b, "- %s\n", summary)
		}
	}

	if s, ok := mctx.Signal(models.ProducerOptionFlow); ok && !s.Degraded() {
		fmt.Fprintf(&b, "\nOption flow: %v (put/call ratio %.2f, max pain %v)\n",
			s.Metadata["sentiment"], toFloat(s.Metadata["put_call_ratio"]), s.Metadata["max_pain"])
	}

	if s, ok := mctx.Signal(models.ProducerNewsSentiment); ok && !s.Degraded() {
		heads, _ := s.Metadata["headlines"].([]Headline)
		if len(heads) > a.heads {
			heads = heads[:a.heads]
		}
		if len(heads) > 0 {
			b.WriteString("\nRecent news:\n")
			for _, h := range heads {
				fmt.Fprintf(&b, "- %s (sentiment %.2f)\n", h.Title, h.Sentiment)
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(analystFormat)
	return service.Prompt{System: analystSystemPrompt, User: b.String()}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
