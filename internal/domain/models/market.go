package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// PriceBar is one OHLCV record.
type PriceBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries is ascending by time with no duplicate timestamps.
type PriceSeries []PriceBar

var ErrEmptySeries = errors.New("empty price series")

// Validate checks ordering and that every value is finite and non-negative.
func (s PriceSeries) Validate() error {
	if len(s) == 0 {
		return ErrEmptySeries
	}
	for i, b := range s {
		for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("bar %d (%s): invalid value %v", i, b.Time.Format(time.RFC3339), v)
			}
		}
		if i > 0 && !b.Time.After(s[i-1].Time) {
			return fmt.Errorf("bar %d (%s): timestamps not strictly increasing", i, b.Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Closes returns the close prices in order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Last returns the latest bar.
func (s PriceSeries) Last() PriceBar {
	if len(s) == 0 {
		return PriceBar{}
	}
	return s[len(s)-1]
}

// Tail returns the last n bars (all of them if n exceeds the length).
func (s PriceSeries) Tail(n int) PriceSeries {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return nil
	}
	return s[len(s)-n:]
}

// Indicators are the technical values computed for the latest bar. Zero
// values mean "not enough history".
type Indicators struct {
	Price      float64 `json:"price"`
	SMA20      float64 `json:"sma_20"`
	SMA50      float64 `json:"sma_50"`
	EMA12      float64 `json:"ema_12"`
	EMA26      float64 `json:"ema_26"`
	RSI14      float64 `json:"rsi_14"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	Volatility float64 `json:"volatility"`
	Bars       int     `json:"bars"`
}

// OptionContract is one strike of an option chain.
type OptionContract struct {
	Strike     float64 `json:"strike"`
	CallOI     float64 `json:"call_oi"`
	PutOI      float64 `json:"put_oi"`
	CallIV     float64 `json:"call_iv"`
	PutIV      float64 `json:"put_iv"`
	CallVolume float64 `json:"call_volume"`
	PutVolume  float64 `json:"put_volume"`
}

// OptionChain is the set of strikes for the nearest expiry.
type OptionChain struct {
	Symbol    string           `json:"symbol"`
	Expiry    time.Time        `json:"expiry"`
	Contracts []OptionContract `json:"contracts"`
}

// Article is a news item considered for sentiment.
type Article struct {
	Symbol      string    `json:"symbol,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Text is the body used for relevance and sentiment scoring.
func (a Article) Text() string {
	s := a.Title
	if a.Description != "" {
		s += ". " + a.Description
	}
	if a.Content != "" {
		s += " " + a.Content
	}
	return s
}

// MarketContext is shared with producers that depend on the rest of the
// tick. Signals holds the outputs of the producers that already ran.
type MarketContext struct {
	Indicators  Indicators   `json:"indicators"`
	OptionChain *OptionChain `json:"-"`
	LastPrice   float64      `json:"last_price"`
	Articles    []Article    `json:"-"`
	Signals     []Signal     `json:"signals"`
}

// Signal looks up an earlier producer's output.
func (c *MarketContext) Signal(p ProducerID) (Signal, bool) {
	if c == nil {
		return Signal{}, false
	}
	for _, s := range c.Signals {
		if s.Producer == p {
			return s, true
		}
	}
	return Signal{}, false
}

// ClassifierInput is sent to a model service.
type ClassifierInput struct {
	Symbol   string             `json:"symbol"`
	Model    string             `json:"model"`
	Features map[string]float64 `json:"features,omitempty"`
	Sequence []float64          `json:"sequence,omitempty"`
}

// ClassPrediction is a 3-class model output: 0 HOLD, 1 BUY, 2 SELL.
type ClassPrediction struct {
	Class         int       `json:"class"`
	Probabilities []float64 `json:"probabilities"`
}

// Action maps the predicted class.
func (p ClassPrediction) Action() Action {
	switch p.Class {
	case 1:
		return ActionBuy
	case 2:
		return ActionSell
	default:
		return ActionHold
	}
}

// Confidence is the probability of the predicted class.
func (p ClassPrediction) Confidence() float64 {
	if p.Class < 0 || p.Class >= len(p.Probabilities) {
		return 0
	}
	return ClampConfidence(p.Probabilities[p.Class])
}
