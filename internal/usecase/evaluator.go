package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	domsvc "TradeLoop/internal/domain/service"
	"TradeLoop/internal/services/features"
	"TradeLoop/internal/services/signals"
	"TradeLoop/pkg/logger"
)

// Evaluator turns one symbol into an AggregatedDecision: fetch the price
// series, run the producers, combine.
//
// Producers run in two phases. The first phase runs concurrently and each
// producer sees only the shared indicators. The analyst runs afterwards with
// the first phase outputs in its MarketContext.
type Evaluator struct {
	prices    domrepo.PriceSeriesProvider
	lastPrice domrepo.LastPriceProvider
	producers []domsvc.SignalProducer
	analyst   domsvc.SignalProducer
	agg       *Aggregator
	metrics   domrepo.Metrics
	log       *logger.Logger

	lookback     int
	fetchTimeout time.Duration
	now          func() time.Time
}

type EvaluatorOption func(*Evaluator)

// WithLastPrice sets the live price source used for MarketContext.LastPrice.
func WithLastPrice(p domrepo.LastPriceProvider) EvaluatorOption {
	return func(e *Evaluator) { e.lastPrice = p }
}

// WithAnalyst sets the second-phase producer.
func WithAnalyst(p domsvc.SignalProducer) EvaluatorOption {
	return func(e *Evaluator) { e.analyst = p }
}

func WithLookback(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.lookback = n
		}
	}
}

func WithFetchTimeout(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

// NewEvaluator wires the first-phase producers. Producers are expected to be
// wrapped with signals.Guard so they never block or panic.
func NewEvaluator(prices domrepo.PriceSeriesProvider, producers []domsvc.SignalProducer, agg *Aggregator, metrics domrepo.Metrics, log *logger.Logger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		prices:       prices,
		producers:    producers,
		agg:          agg,
		metrics:      metrics,
		log:          log,
		lookback:     100,
		fetchTimeout: 15 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns ErrDataUnavailable (wrapped) when no valid price history
// can be obtained. Producer failures never fail the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string) (models.AggregatedDecision, error) {
	start := time.Now()
	series, err := e.fetch(ctx, symbol)
	if err != nil {
		e.metrics.RecordEvaluation("unavailable")
		return models.AggregatedDecision{}, err
	}

	mctx := &models.MarketContext{Indicators: features.Compute(series)}
	mctx.LastPrice = e.livePrice(ctx, symbol)
	if mctx.LastPrice == 0 {
		mctx.LastPrice = series.Last().Close
	}

	phase1 := e.runParallel(ctx, symbol, series, mctx)
	all := phase1
	if e.analyst != nil {
		mctx.Signals = phase1
		all = append(append([]models.Signal(nil), phase1...), e.analyst.Evaluate(ctx, symbol, series, mctx))
	}
	for _, s := range all {
		e.metrics.RecordSignal(string(s.Producer), string(s.Action), s.Degraded())
		if s.Degraded() {
			e.log.Debug("producer degraded",
				logger.String("symbol", symbol),
				logger.String("producer", string(s.Producer)),
				logger.String("reason", s.Error))
		}
	}

	weighted, info := e.agg.Weigh(all)
	d := e.agg.Combine(symbol, weighted, info, e.now())

	e.metrics.RecordEvaluation("ok")
	e.metrics.RecordScore(symbol, d.Score)
	e.metrics.RecordLatency("evaluate", time.Since(start).Seconds())
	return d, nil
}

func (e *Evaluator) fetch(ctx context.Context, symbol string) (models.PriceSeries, error) {
	fctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	series, err := e.prices.Fetch(fctx, symbol, e.lookback)
	if err != nil {
		if errors.Is(err, domrepo.ErrDataUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetch %s: %v", domrepo.ErrDataUnavailable, symbol, err)
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domrepo.ErrDataUnavailable, symbol, err)
	}
	return series, nil
}

func (e *Evaluator) livePrice(ctx context.Context, symbol string) float64 {
	if e.lastPrice == nil {
		return 0
	}
	pctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	px, err := e.lastPrice.LastPrice(pctx, symbol)
	if err != nil {
		e.log.Debug("last price unavailable", logger.String("symbol", symbol), logger.Error(err))
		return 0
	}
	return px
}

// runParallel evaluates every first-phase producer concurrently and returns
// the signals in producer order.
func (e *Evaluator) runParallel(ctx context.Context, symbol string, series models.PriceSeries, mctx *models.MarketContext) []models.Signal {
	out := make([]models.Signal, len(e.producers))
	var wg sync.WaitGroup
	for i, p := range e.producers {
		wg.Add(1)
		go func(i int, p domsvc.SignalProducer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					id, _ := signals.ID(p)
					out[i] = models.DegradedSignal(id, fmt.Sprintf("panic: %v", r))
				}
			}()
			// each producer gets its own copy of the context
			local := *mctx
			out[i] = p.Evaluate(ctx, symbol, series, &local)
		}(i, p)
	}
	wg.Wait()
	return out
}
