package models

import (
	"math"
	"strings"
	"time"
)

// Action is a trading opinion.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction maps a case-insensitive keyword to an Action.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, true
	case ActionSell:
		return ActionSell, true
	case ActionHold:
		return ActionHold, true
	}
	return ActionHold, false
}

// ProducerID names a signal producer.
type ProducerID string

const (
	ProducerTechnical     ProducerID = "technical"
	ProducerStatisticalML ProducerID = "statistical_ml"
	ProducerSequenceModel ProducerID = "sequence_model"
	ProducerLanguageModel ProducerID = "language_model"
	ProducerOptionFlow    ProducerID = "option_flow"
	ProducerNewsSentiment ProducerID = "news_sentiment"
)

// KnownProducers lists every producer id in evaluation order.
var KnownProducers = []ProducerID{
	ProducerTechnical,
	ProducerStatisticalML,
	ProducerSequenceModel,
	ProducerOptionFlow,
	ProducerNewsSentiment,
	ProducerLanguageModel,
}

// Signal is one producer's opinion on one instrument. A degraded signal
// (Error set) is always HOLD with zero confidence.
type Signal struct {
	Producer   ProducerID     `json:"producer"`
	Action     Action         `json:"action"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// NewSignal builds a healthy signal with a clamped confidence.
func NewSignal(p ProducerID, a Action, confidence float64, meta map[string]any) Signal {
	return Signal{Producer: p, Action: a, Confidence: ClampConfidence(confidence), Metadata: meta}
}

// DegradedSignal builds the neutral signal a producer emits on failure.
func DegradedSignal(p ProducerID, reason string) Signal {
	if reason == "" {
		reason = "unknown failure"
	}
	return Signal{Producer: p, Action: ActionHold, Confidence: 0, Error: reason}
}

// Degraded reports whether the producer failed.
func (s Signal) Degraded() bool { return s.Error != "" }

// Normalize re-applies the signal invariants.
func (s Signal) Normalize() Signal {
	if s.Error != "" {
		s.Action = ActionHold
		s.Confidence = 0
		return s
	}
	switch s.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		s.Action = ActionHold
	}
	s.Confidence = ClampConfidence(s.Confidence)
	return s
}

// ClampConfidence clamps to [0,1]; NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func (s Signal) clone() Signal {
	if s.Metadata != nil {
		m := make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			m[k] = v
		}
		s.Metadata = m
	}
	return s
}

// AggregatedDecision is the combined output for one instrument for one tick.
// Values are never mutated after construction; use the With* helpers.
type AggregatedDecision struct {
	Symbol        string       `json:"symbol"`
	Score         float64      `json:"score"`
	Action        Action       `json:"action"`
	Signals       []Signal     `json:"signals"`
	Context       []Signal     `json:"context,omitempty"`
	ComputedAt    time.Time    `json:"computed_at"`
	TradeExecuted bool         `json:"trade_executed"`
	Order         *OrderResult `json:"order,omitempty"`
}

// Clone returns a deep copy.
func (d AggregatedDecision) Clone() AggregatedDecision {
	out := d
	out.Signals = cloneSignals(d.Signals)
	out.Context = cloneSignals(d.Context)
	if d.Order != nil {
		o := *d.Order
		out.Order = &o
	}
	return out
}

// WithTradeExecuted returns a copy recording the order outcome. A nil
// order leaves TradeExecuted false.
func (d AggregatedDecision) WithTradeExecuted(order *OrderResult) AggregatedDecision {
	out := d.Clone()
	if order == nil {
		return out
	}
	o := *order
	out.Order = &o
	out.TradeExecuted = o.Status == OrderStatusSuccess
	return out
}

// Signal returns the weighted or context signal of producer p.
func (d AggregatedDecision) Signal(p ProducerID) (Signal, bool) {
	for _, s := range d.Signals {
		if s.Producer == p {
			return s, true
		}
	}
	for _, s := range d.Context {
		if s.Producer == p {
			return s, true
		}
	}
	return Signal{}, false
}

func cloneSignals(in []Signal) []Signal {
	if in == nil {
		return nil
	}
	out := make([]Signal, len(in))
	for i, s := range in {
		out[i] = s.clone()
	}
	return out
}
