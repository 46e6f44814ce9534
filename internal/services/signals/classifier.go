package signals

import (
	"context"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/domain/service"
	"TradeLoop/internal/services/features"
)

// InputMode selects what a classifier producer sends to its model.
type InputMode int

const (
	// FeatureInput sends the engineered feature vector of the latest bar.
	FeatureInput InputMode = iota
	// SequenceInput sends the trailing normalized close window.
	SequenceInput
)

// ClassifierProducer wraps an offline-trained 3-class model (StatisticalML
// and SequenceModel).
type ClassifierProducer struct {
	id      models.ProducerID
	model   string
	mode    InputMode
	minBars int
	clf     service.Classifier
}

// NewStatisticalML builds the feature-vector producer.
func NewStatisticalML(clf service.Classifier, model string, minBars int) *ClassifierProducer {
	return &ClassifierProducer{id: models.ProducerStatisticalML, model: model, mode: FeatureInput, minBars: minBars, clf: clf}
}

// NewSequenceModel builds the window producer; it needs seqLen bars.
func NewSequenceModel(clf service.Classifier, model string, seqLen int) *ClassifierProducer {
	return &ClassifierProducer{id: models.ProducerSequenceModel, model: model, mode: SequenceInput, minBars: seqLen, clf: clf}
}

func (p *ClassifierProducer) Evaluate(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) models.Signal {
	if len(series) < p.minBars {
		return degradef(p.id, "not enough data for prediction: need %d bars, have %d", p.minBars, len(series))
	}

	in := models.ClassifierInput{Symbol: symbol, Model: p.model}
	switch p.mode {
	case SequenceInput:
		window, ok := features.NormalizedWindow(series, p.minBars)
		if !ok {
			return degradef(p.id, "not enough data for prediction")
		}
		in.Sequence = window
	default:
		in.Features = features.FeatureVector(series)
		if mctx != nil && mctx.Indicators.Bars > 0 {
			in.Features["rsi"] = mctx.Indicators.RSI14
			in.Features["macd"] = mctx.Indicators.MACD
			in.Features["macd_signal"] = mctx.Indicators.MACDSignal
		}
	}

	pred, err := p.clf.Predict(ctx, in)
	if err != nil {
		return degradef(p.id, "%s predict: %v", p.model, err)
	}
	if pred.Class < 0 || pred.Class >= len(pred.Probabilities) {
		return degradef(p.id, "%s returned class %d with %d probabilities", p.model, pred.Class, len(pred.Probabilities))
	}

	meta := map[string]any{"model": p.model, "class": pred.Class}
	if len(pred.Probabilities) == 3 {
		meta["class_probabilities"] = map[string]float64{
			"hold": pred.Probabilities[0],
			"buy":  pred.Probabilities[1],
			"sell": pred.Probabilities[2],
		}
	}
	return models.NewSignal(p.id, pred.Action(), pred.Confidence(), meta)
}
