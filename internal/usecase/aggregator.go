package usecase

import (
	"fmt"
	"math"
	"sort"
	"time"

	"TradeLoop/internal/domain/models"
)

// Thresholds split the aggregate score into actions.
type Thresholds struct {
	Buy  float64
	Sell float64
}

// WeightedSignal is a producer output paired with its aggregation weight.
type WeightedSignal struct {
	Signal models.Signal
	Weight float64
}

// AggregationConfigError reports an unusable weight or threshold
// configuration. It is fatal at startup.
type AggregationConfigError struct {
	Reason string
}

func (e *AggregationConfigError) Error() string {
	return "aggregation config: " + e.Reason
}

// Aggregator combines the weighted producers into one decision.
//
// The score is the literal weighted sum of the (clamped) confidences and is
// read as bullishness. Producer actions are not direction-adjusted: a SELL at
// 0.9 raises the score exactly as a BUY at 0.9 does. Weighted producers are
// expected to report confidence in the bullish direction.
type Aggregator struct {
	weights map[models.ProducerID]float64
	order   []models.ProducerID
	th      Thresholds
}

// NewAggregator validates weights and thresholds. Producers with weight 0
// are accepted but not aggregated.
func NewAggregator(weights map[models.ProducerID]float64, th Thresholds) (*Aggregator, error) {
	if len(weights) == 0 {
		return nil, &AggregationConfigError{Reason: "at least one weight is required"}
	}
	var sum float64
	w := make(map[models.ProducerID]float64, len(weights))
	for id, v := range weights {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, &AggregationConfigError{Reason: fmt.Sprintf("weight %s=%v must be finite and non-negative", id, v)}
		}
		sum += v
		if v > 0 {
			w[id] = v
		}
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, &AggregationConfigError{Reason: fmt.Sprintf("weights sum to %v, want 1", sum)}
	}
	if !(th.Sell >= 0 && th.Sell < th.Buy && th.Buy <= 1) {
		return nil, &AggregationConfigError{Reason: fmt.Sprintf("thresholds need 0 <= sell (%v) < buy (%v) <= 1", th.Sell, th.Buy)}
	}
	return &Aggregator{weights: w, order: orderProducers(w), th: th}, nil
}

// ParseWeights converts configuration keys to producer ids.
func ParseWeights(in map[string]float64) (map[models.ProducerID]float64, error) {
	known := make(map[models.ProducerID]bool, len(models.KnownProducers))
	for _, id := range models.KnownProducers {
		known[id] = true
	}
	out := make(map[models.ProducerID]float64, len(in))
	for k, v := range in {
		id := models.ProducerID(k)
		if !known[id] {
			return nil, &AggregationConfigError{Reason: "unknown producer " + k}
		}
		out[id] = v
	}
	return out, nil
}

// orderProducers returns the weighted ids in the canonical producer order;
// unknown ids sort after them alphabetically.
func orderProducers(w map[models.ProducerID]float64) []models.ProducerID {
	rank := make(map[models.ProducerID]int, len(models.KnownProducers))
	for i, id := range models.KnownProducers {
		rank[id] = i
	}
	out := make([]models.ProducerID, 0, len(w))
	for id := range w {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, oki := rank[out[i]]
		rj, okj := rank[out[j]]
		switch {
		case oki && okj:
			return ri < rj
		case oki != okj:
			return oki
		}
		return out[i] < out[j]
	})
	return out
}

// Weighted lists the aggregated producers in evaluation order.
func (a *Aggregator) Weighted() []models.ProducerID {
	return append([]models.ProducerID(nil), a.order...)
}

// IsWeighted reports whether id contributes to the score.
func (a *Aggregator) IsWeighted(id models.ProducerID) bool {
	_, ok := a.weights[id]
	return ok
}

// Thresholds returns the action thresholds.
func (a *Aggregator) Thresholds() Thresholds { return a.th }

// Weigh splits raw producer outputs into weighted and context signals. A
// weighted producer missing from signals gets a degraded placeholder.
func (a *Aggregator) Weigh(signals []models.Signal) ([]WeightedSignal, []models.Signal) {
	byID := make(map[models.ProducerID]models.Signal, len(signals))
	var info []models.Signal
	for _, s := range signals {
		if a.IsWeighted(s.Producer) {
			if _, dup := byID[s.Producer]; !dup {
				byID[s.Producer] = s
			}
			continue
		}
		info = append(info, s)
	}
	weighted := make([]WeightedSignal, 0, len(a.order))
	for _, id := range a.order {
		s, ok := byID[id]
		if !ok {
			s = models.DegradedSignal(id, "no signal produced")
		}
		weighted = append(weighted, WeightedSignal{Signal: s, Weight: a.weights[id]})
	}
	return weighted, info
}

// Combine scores the weighted signals and picks an action. Context signals
// are carried on the decision but never scored.
func (a *Aggregator) Combine(symbol string, weighted []WeightedSignal, info []models.Signal, at time.Time) models.AggregatedDecision {
	var score float64
	signals := make([]models.Signal, 0, len(weighted))
	for _, ws := range weighted {
		s := ws.Signal.Normalize()
		signals = append(signals, s)
		w := ws.Weight
		if math.IsNaN(w) || w < 0 {
			w = 0
		}
		score += s.Confidence * w
	}
	score = models.ClampConfidence(score)

	var ctxSignals []models.Signal
	if len(info) > 0 {
		ctxSignals = make([]models.Signal, len(info))
		for i, s := range info {
			ctxSignals[i] = s.Normalize()
		}
	}

	d := models.AggregatedDecision{
		Symbol:     symbol,
		Score:      score,
		Action:     a.Action(score),
		Signals:    signals,
		Context:    ctxSignals,
		ComputedAt: at,
	}
	return d.Clone()
}

// Action maps a score to BUY above the buy threshold, SELL below the sell
// threshold and HOLD otherwise.
func (a *Aggregator) Action(score float64) models.Action {
	switch {
	case score > a.th.Buy:
		return models.ActionBuy
	case score < a.th.Sell:
		return models.ActionSell
	}
	return models.ActionHold
}
