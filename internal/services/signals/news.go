package signals

import (
	"context"
	"sort"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/domain/repository"
	"TradeLoop/internal/domain/service"
	"TradeLoop/internal/services/news"
)

// Headline is a scored article surfaced in the news signal metadata.
type Headline struct {
	Title     string  `json:"title"`
	Source    string  `json:"source,omitempty"`
	Relevance float64 `json:"relevance"`
	Sentiment float64 `json:"sentiment"`
}

// NewsSentiment is the relevance-weighted mean sentiment of recent articles.
type NewsSentiment struct {
	source    repository.NewsSource
	scorer    service.SentimentScorer
	companies news.Companies
	top       int
	threshold float64
}

func NewNewsSentiment(source repository.NewsSource, scorer service.SentimentScorer, companies news.Companies) *NewsSentiment {
	return &NewsSentiment{source: source, scorer: scorer, companies: companies, top: 10, threshold: 0.2}
}

func (n *NewsSentiment) Evaluate(ctx context.Context, symbol string, _ models.PriceSeries, mctx *models.MarketContext) models.Signal {
	var articles []models.Article
	if mctx != nil && mctx.Articles != nil {
		articles = mctx.Articles
	} else {
		if n.source == nil {
			return degradef(models.ProducerNewsSentiment, "no news source configured")
		}
		a, err := n.source.Articles(ctx, symbol)
		if err != nil {
			return degradef(models.ProducerNewsSentiment, "news source: %v", err)
		}
		articles = a
	}

	company := n.companies.Name(symbol)
	scored := make([]Headline, 0, len(articles))
	for _, a := range articles {
		rel := news.Relevance(a.Text(), symbol, company)
		if rel <= 0 {
			continue
		}
		scored = append(scored, Headline{
			Title:     a.Title,
			Source:    a.Source,
			Relevance: rel,
			Sentiment: n.scorer.Score(a.Text()),
		})
	}
	if len(scored) == 0 {
		return models.NewSignal(models.ProducerNewsSentiment, models.ActionHold, 0.5, map[string]any{
			"articles":        0,
			"sentiment_score": 0.0,
			"sentiment":       "neutral",
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })
	if len(scored) > n.top {
		scored = scored[:n.top]
	}

	var num, den float64
	for _, h := range scored {
		num += h.Sentiment * h.Relevance
		den += h.Relevance
	}
	score := num / den

	action, label, conf := models.ActionHold, "neutral", 0.5
	switch {
	case score >= n.threshold:
		action, label, conf = models.ActionBuy, "bullish", 0.5+score/2
	case score <= -n.threshold:
		action, label, conf = models.ActionSell, "bearish", 0.5-score/2
	}

	return models.NewSignal(models.ProducerNewsSentiment, action, conf, map[string]any{
		"articles":        len(scored),
		"sentiment_score": score,
		"sentiment":       label,
		"headlines":       scored,
	})
}
