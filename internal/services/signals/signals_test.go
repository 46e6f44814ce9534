package signals

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/domain/service"
	"TradeLoop/internal/services/news"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(n int, price func(i int) float64) models.PriceSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(models.PriceSeries, n)
	for i := range out {
		p := price(i)
		out[i] = models.PriceBar{
			Time:   start.AddDate(0, 0, i),
			Open:   p,
			High:   p * 1.01,
			Low:    p * 0.99,
			Close:  p,
			Volume: 1000 + float64(i),
		}
	}
	return out
}

func rising(n int) models.PriceSeries {
	return series(n, func(i int) float64 { return 100 + float64(i) })
}
func falling(n int) models.PriceSeries {
	return series(n, func(i int) float64 { return 200 - float64(i) })
}

func TestGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("panic becomes degraded", func(t *testing.T) {
		p := Guard(models.ProducerTechnical, service.SignalProducerFunc(
			func(context.Context, string, models.PriceSeries, *models.MarketContext) models.Signal {
				panic("boom")
			}), time.Second)
		s := p.Evaluate(ctx, "INFY", nil, nil)
		assert.True(t, s.Degraded())
		assert.Equal(t, models.ActionHold, s.Action)
		assert.Zero(t, s.Confidence)
		assert.Contains(t, s.Error, "boom")
	})

	t.Run("timeout becomes degraded", func(t *testing.T) {
		p := Guard(models.ProducerLanguageModel, service.SignalProducerFunc(
			func(ctx context.Context, _ string, _ models.PriceSeries, _ *models.MarketContext) models.Signal {
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				return models.NewSignal(models.ProducerLanguageModel, models.ActionBuy, 1, nil)
			}), 20*time.Millisecond)
		s := p.Evaluate(ctx, "INFY", nil, nil)
		assert.True(t, s.Degraded())
		assert.Contains(t, s.Error, "timed out")
	})

	t.Run("stamps id and clamps", func(t *testing.T) {
		p := Guard(models.ProducerOptionFlow, service.SignalProducerFunc(
			func(context.Context, string, models.PriceSeries, *models.MarketContext) models.Signal {
				return models.Signal{Producer: "whatever", Action: "MAYBE", Confidence: 3}
			}), 0)
		s := p.Evaluate(ctx, "INFY", nil, nil)
		assert.Equal(t, models.ProducerOptionFlow, s.Producer)
		assert.Equal(t, models.ActionHold, s.Action)
		assert.Equal(t, 1.0, s.Confidence)

		id, ok := ID(p)
		assert.True(t, ok)
		assert.Equal(t, models.ProducerOptionFlow, id)
	})

	t.Run("nil producer", func(t *testing.T) {
		s := Guard(models.ProducerNewsSentiment, nil, 0).Evaluate(ctx, "INFY", nil, nil)
		assert.True(t, s.Degraded())
	})
}

func TestTechnical(t *testing.T) {
	tech := NewTechnical(TechnicalConfig{BuyConfidence: 0.8, SellConfidence: 0.7, HoldConfidence: 0.5})
	ctx := context.Background()

	s := tech.Evaluate(ctx, "INFY", rising(60), nil)
	assert.Equal(t, models.ActionBuy, s.Action)
	assert.Equal(t, 0.8, s.Confidence)
	assert.Equal(t, "Bullish", s.Metadata["trend"])
	assert.Equal(t, "Overbought", s.Metadata["rsi_signal"])
	assert.Contains(t, s.Metadata["summary"], "Technical Analysis: Bullish")

	s = tech.Evaluate(ctx, "INFY", falling(60), nil)
	assert.Equal(t, models.ActionSell, s.Action)
	assert.Equal(t, 0.7, s.Confidence)

	flat := series(60, func(int) float64 { return 100 })
	s = tech.Evaluate(ctx, "INFY", flat, nil)
	assert.Equal(t, models.ActionHold, s.Action)
	assert.Equal(t, 0.5, s.Confidence)

	s = tech.Evaluate(ctx, "INFY", rising(30), nil)
	assert.True(t, s.Degraded())
}

type fakeClassifier struct {
	pred models.ClassPrediction
	err  error
	last models.ClassifierInput
}

func (f *fakeClassifier) Predict(_ context.Context, in models.ClassifierInput) (models.ClassPrediction, error) {
	f.last = in
	return f.pred, f.err
}

func TestClassifierProducers(t *testing.T) {
	ctx := context.Background()
	clf := &fakeClassifier{pred: models.ClassPrediction{Class: 2, Probabilities: []float64{0.1, 0.2, 0.7}}}

	seq := NewSequenceModel(clf, "lstm", 60)
	s := seq.Evaluate(ctx, "TCS", rising(59), nil)
	require.True(t, s.Degraded())
	assert.Contains(t, s.Error, "not enough data for prediction")

	s = seq.Evaluate(ctx, "TCS", rising(80), nil)
	assert.Equal(t, models.ActionSell, s.Action)
	assert.Equal(t, 0.7, s.Confidence)
	assert.Len(t, clf.last.Sequence, 60)
	assert.Equal(t, 1.0, clf.last.Sequence[59])

	stat := NewStatisticalML(clf, "random_forest", 20)
	clf.pred = models.ClassPrediction{Class: 1, Probabilities: []float64{0.2, 0.65, 0.15}}
	s = stat.Evaluate(ctx, "TCS", rising(30), &models.MarketContext{Indicators: models.Indicators{Bars: 30, RSI14: 62}})
	assert.Equal(t, models.ActionBuy, s.Action)
	assert.Equal(t, 0.65, s.Confidence)
	assert.Equal(t, "random_forest", clf.last.Model)
	assert.Equal(t, 62.0, clf.last.Features["rsi"])
	assert.Contains(t, clf.last.Features, "ma_ratio_20")

	clf.err = errors.New("connection refused")
	s = stat.Evaluate(ctx, "TCS", rising(30), nil)
	assert.True(t, s.Degraded())

	clf.err = nil
	clf.pred = models.ClassPrediction{Class: 4, Probabilities: []float64{1}}
	s = stat.Evaluate(ctx, "TCS", rising(30), nil)
	assert.True(t, s.Degraded())
}

func TestParseAnalystFallback(t *testing.T) {
	r := ParseAnalystResponse("After reviewing the chart I would SELL here.\n- high volatility risk\n")
	assert.False(t, r.Structured)
	assert.Equal(t, models.ActionSell, r.Recommendation)
	assert.Equal(t, 0.5, r.Confidence)
	assert.Equal(t, []string{"high volatility risk"}, r.Risks)
	assert.Empty(t, r.Factors)
}

func TestParseAnalystFallbackKeywordPrecedence(t *testing.T) {
	cases := map[string]models.Action{
		"I would not SELL here. BUY on dips.":        models.ActionBuy,
		"Hold off for now, then SELL into strength.": models.ActionSell,
		"hold and wait for earnings":                 models.ActionHold,
		"Buyers are thin, sellers dominate.":         models.ActionHold,
	}
	for text, want := range cases {
		assert.Equal(t, want, ParseAnalystResponse(text).Recommendation, text)
	}
}

func TestParseAnalystSections(t *testing.T) {
	text := `Overall the stock might be a buy for some.
Recommendation: HOLD
Confidence: 0.62
Price target: $1,520.50.

Key factors:
1. Strong quarterly earnings growth
2. ok
* Expanding margins in services

Risks:
- Regulatory overhang in the sector
- Currency headwinds`

	r := ParseAnalystResponse(text)
	assert.Equal(t, models.ActionHold, r.Recommendation)
	assert.Equal(t, 0.62, r.Confidence)
	assert.Equal(t, "$1,520.50", r.PriceTarget)
	assert.Equal(t, []string{"Strong quarterly earnings growth", "Expanding margins in services"}, r.Factors)
	assert.Equal(t, []string{"Regulatory overhang in the sector", "Currency headwinds"}, r.Risks)
}

func TestParseAnalystConfidenceOutOfRange(t *testing.T) {
	r := ParseAnalystResponse("BUY with confidence: 85")
	assert.Equal(t, models.ActionBuy, r.Recommendation)
	assert.Equal(t, 0.5, r.Confidence)

	r = ParseAnalystResponse("nothing to see")
	assert.Equal(t, models.ActionHold, r.Recommendation)
}

func TestParseAnalystJSON(t *testing.T) {
	text := "Here is my view:\n```json\n" +
		`{"recommendation": "buy", "confidence": "0.8", "factors": ["momentum {strong}", ""], ` +
		`"risks": ["valuation \"stretched\""], "price_target": 1650, "analysis": "Breakout above resistance."}` +
		"\n```\nThanks."
	r := ParseAnalystResponse(text)
	require.True(t, r.Structured)
	assert.Equal(t, models.ActionBuy, r.Recommendation)
	assert.Equal(t, 0.8, r.Confidence)
	assert.Equal(t, []string{"momentum {strong}"}, r.Factors)
	assert.Equal(t, []string{`valuation "stretched"`}, r.Risks)
	assert.Equal(t, "1650", r.PriceTarget)
	assert.Equal(t, "Breakout above resistance.", r.Analysis)

	r = ParseAnalystResponse(`{"recommendation": "SELL", "confidence": 1.7}`)
	assert.Equal(t, 1.0, r.Confidence)

	// invalid JSON falls back to prose extraction
	r = ParseAnalystResponse(`{recommendation: SELL, confidence: 0.9}`)
	assert.False(t, r.Structured)
	assert.Equal(t, models.ActionSell, r.Recommendation)
	assert.Equal(t, 0.9, r.Confidence)
}

func TestParseAnalystLongAnalysisTruncated(t *testing.T) {
	r := ParseAnalystResponse(strings.Repeat("a", 250))
	assert.Len(t, r.Analysis, 203)
	assert.True(t, strings.HasSuffix(r.Analysis, "..."))
}

type fakeReasoner struct {
	reply  string
	err    error
	prompt service.Prompt
}

func (f *fakeReasoner) Complete(_ context.Context, p service.Prompt) (string, error) {
	f.prompt = p
	return f.reply, f.err
}

func TestAnalyst(t *testing.T) {
	llm := &fakeReasoner{reply: `{"recommendation":"BUY","confidence":0.9,"factors":["trend"],"risks":[]}`}
	a := NewAnalyst(llm)
	a.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	mctx := &models.MarketContext{
		Indicators: models.Indicators{Bars: 60, SMA20: 150, SMA50: 140, RSI14: 61},
		Signals: []models.Signal{
			models.NewSignal(models.ProducerOptionFlow, models.ActionBuy, 0.6, map[string]any{
				"sentiment": "bullish", "put_call_ratio": 0.7, "max_pain": 150.0,
			}),
			models.NewSignal(models.ProducerNewsSentiment, models.ActionBuy, 0.7, map[string]any{
				"headlines": []Headline{{Title: "one", Sentiment: 0.4}, {Title: "two"}, {Title: "three"}, {Title: "four"}},
			}),
		},
	}
	s := a.Evaluate(context.Background(), "INFY", rising(60), mctx)
	assert.Equal(t, models.ActionBuy, s.Action)
	assert.Equal(t, 0.9, s.Confidence)

	assert.Contains(t, llm.prompt.System, "professional stock market analyst")
	assert.Contains(t, llm.prompt.User, "Analyze INFY as of 2024-03-01")
	assert.Contains(t, llm.prompt.User, "put/call ratio 0.70")
	assert.Contains(t, llm.prompt.User, "- three (sentiment 0.00)")
	assert.NotContains(t, llm.prompt.User, "four")
	assert.Equal(t, 5, strings.Count(llm.prompt.User, " O:"))

	llm.err = errors.New("503")
	s = a.Evaluate(context.Background(), "INFY", rising(60), mctx)
	assert.True(t, s.Degraded())
}

func chain(calls, puts float64) *models.OptionChain {
	return &models.OptionChain{Symbol: "NIFTY", Contracts: []models.OptionContract{
		{Strike: 90, CallOI: calls / 2, PutOI: puts / 4, CallIV: 0.30, PutIV: 0.32},
		{Strike: 100, CallOI: calls / 4, PutOI: puts / 2, CallIV: 0.20, PutIV: 0.22},
		{Strike: 110, CallOI: calls / 4, PutOI: puts / 4, CallIV: 0.25, PutIV: 0.27},
	}}
}

func TestOptionFlow(t *testing.T) {
	of := NewOptionFlow(DefaultOptionFlowConfig(), nil, nil)
	ctx := context.Background()

	s := of.Evaluate(ctx, "NIFTY", nil, &models.MarketContext{OptionChain: chain(1000, 500), LastPrice: 100})
	assert.Equal(t, models.ActionBuy, s.Action)
	assert.InDelta(t, 0.75, s.Confidence, 1e-9)
	assert.InDelta(t, 0.21, s.Metadata["iv_proxy"], 1e-9)
	assert.Equal(t, "bullish", s.Metadata["sentiment"])

	s = of.Evaluate(ctx, "NIFTY", nil, &models.MarketContext{OptionChain: chain(1000, 3000), LastPrice: 100})
	assert.Equal(t, models.ActionSell, s.Action)
	assert.Equal(t, 1.0, s.Confidence)

	s = of.Evaluate(ctx, "NIFTY", nil, &models.MarketContext{OptionChain: chain(1000, 1000), LastPrice: 100})
	assert.Equal(t, models.ActionHold, s.Action)
	assert.Equal(t, 0.5, s.Confidence)

	s = of.Evaluate(ctx, "NIFTY", nil, &models.MarketContext{OptionChain: chain(0, 1000), LastPrice: 100})
	assert.True(t, s.Degraded())
}

func TestMaxPain(t *testing.T) {
	c := &models.OptionChain{Contracts: []models.OptionContract{
		{Strike: 90, CallOI: 100, PutOI: 10},
		{Strike: 100, CallOI: 50, PutOI: 50},
		{Strike: 110, CallOI: 10, PutOI: 100},
	}}
	a := AnalyzeChain(c, 100, 0.05)
	assert.Equal(t, 100.0, a.MaxPain)
	assert.Equal(t, 1.0, a.PutCallRatio)
}

type fakeNews struct {
	articles []models.Article
	err      error
}

func (f fakeNews) Articles(context.Context, string) ([]models.Article, error) {
	return f.articles, f.err
}

type wordScorer map[string]float64

func (w wordScorer) Score(text string) float64 {
	for k, v := range w {
		if strings.Contains(text, k) {
			return v
		}
	}
	return 0
}

func TestNewsSentiment(t *testing.T) {
	companies := news.NewCompanies(nil)
	scorer := wordScorer{"surge": 0.8, "probe": -0.6}
	ctx := context.Background()

	src := fakeNews{articles: []models.Article{
		{Title: "Infosys shares surge"},
		{Title: "INFY deal surge"},
		{Title: "Unrelated market wrap with nothing about the name at all"},
	}}
	s := NewNewsSentiment(src, scorer, companies).Evaluate(ctx, "INFY", nil, nil)
	assert.Equal(t, models.ActionBuy, s.Action)
	assert.InDelta(t, 0.9, s.Confidence, 1e-9)
	assert.Equal(t, 2, s.Metadata["articles"])
	heads := s.Metadata["headlines"].([]Headline)
	assert.Len(t, heads, 2)

	src = fakeNews{articles: []models.Article{{Title: "INFY faces probe"}}}
	s = NewNewsSentiment(src, scorer, companies).Evaluate(ctx, "INFY", nil, nil)
	assert.Equal(t, models.ActionSell, s.Action)
	assert.InDelta(t, 0.8, s.Confidence, 1e-9)

	s = NewNewsSentiment(fakeNews{}, scorer, companies).Evaluate(ctx, "INFY", nil, nil)
	assert.Equal(t, models.ActionHold, s.Action)
	assert.Equal(t, 0.5, s.Confidence)
	assert.Equal(t, 0, s.Metadata["articles"])
	assert.False(t, s.Degraded())

	s = NewNewsSentiment(fakeNews{err: errors.New("timeout")}, scorer, companies).Evaluate(ctx, "INFY", nil, nil)
	assert.True(t, s.Degraded())
}
