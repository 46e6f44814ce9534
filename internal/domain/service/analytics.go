package service

import (
	"context"

	"TradeLoop/internal/domain/models"
)

// SignalProducer turns market state into an opinion. It never fails:
// problems come back as a degraded Signal.
type SignalProducer interface {
	Evaluate(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) models.Signal
}

// SignalProducerFunc adapts a function to SignalProducer.
type SignalProducerFunc func(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) models.Signal

func (f SignalProducerFunc) Evaluate(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) models.Signal {
	return f(ctx, symbol, series, mctx)
}

// Classifier runs an offline-trained 3-class model.
type Classifier interface {
	Predict(ctx context.Context, in models.ClassifierInput) (models.ClassPrediction, error)
}

// ReasoningService is an external text model: one prompt in, free text out.
type ReasoningService interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Prompt is a system instruction plus the user message.
type Prompt struct {
	System string
	User   string
}

// SentimentScorer scores text in [-1, 1].
type SentimentScorer interface {
	Score(text string) float64
}
