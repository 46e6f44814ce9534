package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	domsvc "TradeLoop/internal/domain/service"
	svccache "TradeLoop/internal/service/cache"
	"TradeLoop/internal/services/signals"
	pkgcache "TradeLoop/pkg/cache"
	"TradeLoop/pkg/logger"
	"TradeLoop/pkg/metrics"
	"TradeLoop/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refWeights = map[models.ProducerID]float64{
	models.ProducerStatisticalML: 0.25,
	models.ProducerSequenceModel: 0.25,
	models.ProducerLanguageModel: 0.5,
}

func refAggregator(t *testing.T) *Aggregator {
	t.Helper()
	a, err := NewAggregator(refWeights, Thresholds{Buy: 0.75, Sell: 0.25})
	require.NoError(t, err)
	return a
}

func risingSeries(n int) models.PriceSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(models.PriceSeries, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = models.PriceBar{Time: start.AddDate(0, 0, i), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return out
}

type fakePrices struct {
	series  models.PriceSeries
	missing map[string]bool
	release chan struct{}
	entered chan struct{}
}

func (f *fakePrices) Fetch(_ context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	if f.missing[symbol] {
		return nil, domrepo.ErrDataUnavailable
	}
	return f.series.Tail(lookback), nil
}

type staticWatchlist []string

func (w staticWatchlist) List(context.Context) ([]string, error) { return w, nil }

type fakeGateway struct {
	mu   sync.Mutex
	reqs []models.OrderRequest
	err  error
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req models.OrderRequest) (models.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return models.FailedOrder(req, g.err.Error(), time.Now()), g.err
	}
	return models.OrderResult{
		Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity, ClientOrderID: req.ClientOrderID,
		Status: models.OrderStatusSuccess, BrokerOrderID: "B-1", PlacedAt: time.Now(),
	}, nil
}

func (g *fakeGateway) requests() []models.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.OrderRequest(nil), g.reqs...)
}

type memRecorder struct {
	mu  sync.Mutex
	evs []models.DecisionEvent
}

func (r *memRecorder) Record(_ context.Context, ev models.DecisionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

func (r *memRecorder) events() []models.DecisionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.DecisionEvent(nil), r.evs...)
}

func constant(id models.ProducerID, a models.Action, c float64) domsvc.SignalProducer {
	return signals.Guard(id, domsvc.SignalProducerFunc(func(context.Context, string, models.PriceSeries, *models.MarketContext) models.Signal {
		return models.NewSignal(id, a, c, nil)
	}), time.Second)
}

func TestNewAggregatorValidation(t *testing.T) {
	tests := []struct {
		name    string
		weights map[models.ProducerID]float64
		th      Thresholds
	}{
		{"no weights", map[models.ProducerID]float64{}, Thresholds{0.75, 0.25}},
		{"negative", map[models.ProducerID]float64{"a": -0.5, "b": 1.5}, Thresholds{0.75, 0.25}},
		{"nan", map[models.ProducerID]float64{"a": math.NaN()}, Thresholds{0.75, 0.25}},
		{"sum below one", map[models.ProducerID]float64{"a": 0.5, "b": 0.4}, Thresholds{0.75, 0.25}},
		{"inverted thresholds", refWeights, Thresholds{0.25, 0.75}},
		{"buy above one", refWeights, Thresholds{1.2, 0.25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAggregator(tt.weights, tt.th)
			var cfgErr *AggregationConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}

	_, err := NewAggregator(map[models.ProducerID]float64{"a": 0.3333333, "b": 0.3333333, "c": 0.3333334}, Thresholds{0.75, 0.25})
	assert.NoError(t, err)
}

func TestParseWeights(t *testing.T) {
	w, err := ParseWeights(map[string]float64{"statistical_ml": 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, w[models.ProducerStatisticalML])

	_, err = ParseWeights(map[string]float64{"astrology": 1})
	assert.Error(t, err)
}

func TestAggregatorActionBoundaries(t *testing.T) {
	a, err := NewAggregator(map[models.ProducerID]float64{models.ProducerTechnical: 1}, Thresholds{Buy: 0.75, Sell: 0.25})
	require.NoError(t, err)

	tests := []struct {
		conf float64
		want models.Action
	}{
		{0.9, models.ActionBuy},
		{0.75, models.ActionHold},
		{0.5, models.ActionHold},
		{0.25, models.ActionHold},
		{0.1, models.ActionSell},
	}
	for _, tt := range tests {
		d := a.Combine("INFY", []WeightedSignal{{Signal: models.NewSignal(models.ProducerTechnical, models.ActionBuy, tt.conf, nil), Weight: 1}}, nil, time.Now())
		assert.InDelta(t, tt.conf, d.Score, 1e-12)
		assert.Equal(t, tt.want, d.Action, "confidence %v", tt.conf)
	}
}

func TestAggregatorLiteralWeightedSum(t *testing.T) {
	a := refAggregator(t)
	weighted, info := a.Weigh([]models.Signal{
		models.NewSignal(models.ProducerTechnical, models.ActionBuy, 0.8, nil),
		models.NewSignal(models.ProducerStatisticalML, models.ActionSell, 0.8, nil),
		models.NewSignal(models.ProducerLanguageModel, models.ActionBuy, 0.6, nil),
	})

	require.Len(t, weighted, 3)
	assert.Equal(t, models.ProducerStatisticalML, weighted[0].Signal.Producer)
	assert.Equal(t, models.ProducerSequenceModel, weighted[1].Signal.Producer)
	assert.True(t, weighted[1].Signal.Degraded())
	assert.Equal(t, models.ProducerLanguageModel, weighted[2].Signal.Producer)
	require.Len(t, info, 1)
	assert.Equal(t, models.ProducerTechnical, info[0].Producer)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d := a.Combine("TCS", weighted, info, at)
	// a SELL at 0.8 still adds 0.25*0.8
	assert.InDelta(t, 0.25*0.8+0.5*0.6, d.Score, 1e-12)
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Equal(t, at, d.ComputedAt)
	assert.Len(t, d.Context, 1)
}

func TestAggregatorScoreStaysInRange(t *testing.T) {
	a := refAggregator(t)
	d := a.Combine("X", []WeightedSignal{
		{Signal: models.Signal{Producer: "a", Action: models.ActionBuy, Confidence: 7}, Weight: 0.6},
		{Signal: models.Signal{Producer: "b", Action: models.ActionBuy, Confidence: math.NaN()}, Weight: 0.4},
		{Signal: models.Signal{Producer: "c", Action: models.ActionBuy, Confidence: 1}, Weight: 0.9},
	}, nil, time.Now())
	assert.Equal(t, 1.0, d.Score)
	assert.Equal(t, 1.0, d.Signals[0].Confidence)
	assert.Equal(t, 0.0, d.Signals[1].Confidence)
}

func newEvaluator(t *testing.T, prices domrepo.PriceSeriesProvider, conf float64) *Evaluator {
	t.Helper()
	return NewEvaluator(prices, []domsvc.SignalProducer{
		constant(models.ProducerTechnical, models.ActionBuy, 0.8),
		constant(models.ProducerStatisticalML, models.ActionBuy, conf),
		constant(models.ProducerSequenceModel, models.ActionBuy, conf),
	}, refAggregator(t), metrics.Nop{}, logger.Nop(),
		WithAnalyst(constant(models.ProducerLanguageModel, models.ActionBuy, conf)),
		WithLookback(60))
}

func TestEvaluatorAnalystSeesFirstPhase(t *testing.T) {
	var seen []models.ProducerID
	analyst := signals.Guard(models.ProducerLanguageModel, domsvc.SignalProducerFunc(func(_ context.Context, _ string, _ models.PriceSeries, mctx *models.MarketContext) models.Signal {
		for _, s := range mctx.Signals {
			seen = append(seen, s.Producer)
		}
		assert.Greater(t, mctx.Indicators.SMA50, 0.0)
		assert.Equal(t, 159.0, mctx.LastPrice)
		return models.NewSignal("", models.ActionBuy, 1, nil)
	}), time.Second)

	e := NewEvaluator(&fakePrices{series: risingSeries(60)}, []domsvc.SignalProducer{
		constant(models.ProducerTechnical, models.ActionBuy, 0.8),
		constant(models.ProducerStatisticalML, models.ActionBuy, 0.6),
	}, refAggregator(t), metrics.Nop{}, logger.Nop(), WithAnalyst(analyst))

	d, err := e.Evaluate(context.Background(), "INFY")
	require.NoError(t, err)
	assert.Equal(t, []models.ProducerID{models.ProducerTechnical, models.ProducerStatisticalML}, seen)
	// sequence model is weighted but absent
	assert.InDelta(t, 0.25*0.6+0.5*1, d.Score, 1e-12)
	seq, ok := d.Signal(models.ProducerSequenceModel)
	require.True(t, ok)
	assert.True(t, seq.Degraded())
}

func TestEvaluatorRejectsInvalidSeries(t *testing.T) {
	bad := risingSeries(10)
	bad[5].Time = bad[4].Time
	e := newEvaluator(t, &fakePrices{series: bad}, 0.9)

	_, err := e.Evaluate(context.Background(), "INFY")
	assert.ErrorIs(t, err, domrepo.ErrDataUnavailable)
}

func newGate(t *testing.T, gw domrepo.OrderGateway, locks pkgcache.Service, policy RepeatPolicy) *TradeGate {
	t.Helper()
	g, err := NewTradeGate(TradeGateConfig{
		Enabled: true, HighThreshold: 0.85, LowThreshold: 0.15, Quantity: 1,
		Policy: policy, Cooldown: time.Minute, OrderTimeout: time.Second,
	}, gw, locks, metrics.Nop{}, logger.Nop())
	require.NoError(t, err)
	return g
}

func TestEndToEndBuyOrder(t *testing.T) {
	gw := &fakeGateway{}
	rec := &memRecorder{}
	decisions := svccache.NewDecisionCache()
	s := NewScheduler(SchedulerConfig{Interval: time.Hour}, staticWatchlist{"INFY"},
		newEvaluator(t, &fakePrices{series: risingSeries(60)}, 0.9), decisions,
		newGate(t, gw, nil, RepeatEveryTick), rec, metrics.Nop{}, logger.Nop())

	s.tick(context.Background())

	d, ok := decisions.Get("INFY")
	require.True(t, ok)
	assert.InDelta(t, 0.9, d.Score, 1e-12)
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.True(t, d.TradeExecuted)
	require.NotNil(t, d.Order)
	assert.Equal(t, "B-1", d.Order.BrokerOrderID)

	reqs := gw.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, models.SideBuy, reqs[0].Side)
	assert.Equal(t, 1, reqs[0].Quantity)
	assert.Len(t, reqs[0].ClientOrderID, 26)

	evs := rec.events()
	require.Len(t, evs, 1)
	assert.Equal(t, SourceTick, evs[0].Source)
	assert.True(t, evs[0].Decision.TradeExecuted)
}

func TestFailedOrderLeavesDecision(t *testing.T) {
	gw := &fakeGateway{err: domrepo.ErrOrderRejected}
	decisions := svccache.NewDecisionCache()
	s := NewScheduler(SchedulerConfig{Interval: time.Hour}, staticWatchlist{"INFY"},
		newEvaluator(t, &fakePrices{series: risingSeries(60)}, 0.9), decisions,
		newGate(t, gw, nil, RepeatEveryTick), nil, metrics.Nop{}, logger.Nop())

	s.tick(context.Background())

	d, ok := decisions.Get("INFY")
	require.True(t, ok)
	assert.False(t, d.TradeExecuted)
	assert.Nil(t, d.Order)
	assert.Len(t, gw.requests(), 1)
}

func TestTickSkipsUnavailableSymbol(t *testing.T) {
	decisions := svccache.NewDecisionCache()
	prices := &fakePrices{series: risingSeries(60), missing: map[string]bool{"BAD": true}}
	s := NewScheduler(SchedulerConfig{Interval: time.Hour}, staticWatchlist{"BAD", "GOOD"},
		newEvaluator(t, prices, 0.5), decisions, nil, nil, metrics.Nop{}, logger.Nop())

	s.tick(context.Background())

	_, ok := decisions.Get("BAD")
	assert.False(t, ok)
	_, ok = decisions.Get("GOOD")
	assert.True(t, ok)
	assert.Equal(t, 1, decisions.Len())
}

type panicPrices struct{ fakePrices }

func (p *panicPrices) Fetch(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	if symbol == "BOOM" {
		panic("corrupt payload")
	}
	return p.fakePrices.Fetch(ctx, symbol, lookback)
}

func TestSymbolPanicIsIsolated(t *testing.T) {
	decisions := svccache.NewDecisionCache()
	prices := &panicPrices{fakePrices{series: risingSeries(60)}}
	s := NewScheduler(SchedulerConfig{Interval: time.Hour}, staticWatchlist{"BOOM", "OK"},
		newEvaluator(t, prices, 0.5), decisions, nil, nil, metrics.Nop{}, logger.Nop())

	s.tick(context.Background())

	_, ok := decisions.Get("OK")
	assert.True(t, ok)
	_, ok = decisions.Get("BOOM")
	assert.False(t, ok)
}

func TestUnguardedProducerPanicDegrades(t *testing.T) {
	e := NewEvaluator(&fakePrices{series: risingSeries(60)}, []domsvc.SignalProducer{
		domsvc.SignalProducerFunc(func(context.Context, string, models.PriceSeries, *models.MarketContext) models.Signal {
			panic("nil map")
		}),
		constant(models.ProducerStatisticalML, models.ActionBuy, 0.4),
	}, refAggregator(t), metrics.Nop{}, logger.Nop())

	d, err := e.Evaluate(context.Background(), "INFY")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, d.Score, 1e-12)
	require.Len(t, d.Context, 1)
	assert.True(t, d.Context[0].Degraded())
}

func TestSchedulerStartStop(t *testing.T) {
	decisions := svccache.NewDecisionCache()
	s := NewScheduler(SchedulerConfig{Interval: time.Hour}, staticWatchlist{"INFY", "TCS"},
		newEvaluator(t, &fakePrices{series: risingSeries(60)}, 0.5), decisions, nil, nil, metrics.Nop{}, logger.Nop())

	assert.Equal(t, models.StateIdle, s.State())
	assert.False(t, s.Stop())
	assert.Equal(t, []string{"statistical_ml", "sequence_model", "language_model"}, s.weightedProducers())

	require.True(t, s.Start())
	assert.False(t, s.Start())
	assert.True(t, s.Active())

	require.Eventually(t, func() bool { return decisions.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.True(t, s.Stop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, models.StateIdle, s.State())
	assert.False(t, s.Active())
}

func TestSchedulerRestartWhileStopping(t *testing.T) {
	prices := &fakePrices{series: risingSeries(60), release: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewScheduler(SchedulerConfig{Interval: time.Hour}, staticWatchlist{"INFY"},
		newEvaluator(t, prices, 0.5), svccache.NewDecisionCache(), nil, nil, metrics.Nop{}, logger.Nop())

	require.True(t, s.Start())
	<-prices.entered
	require.True(t, s.Stop())
	assert.Equal(t, models.StateStopping, s.State())

	require.True(t, s.Start())
	assert.Equal(t, models.StateRunning, s.State())
	close(prices.release)

	// the first loop exiting must not flip the new one to Idle
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.StateRunning, s.State())

	require.True(t, s.Stop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, models.StateIdle, s.State())
}

func TestAnalyzeNeverTrades(t *testing.T) {
	gw := &fakeGateway{}
	rec := &memRecorder{}
	decisions := svccache.NewDecisionCache()
	s := NewScheduler(SchedulerConfig{}, staticWatchlist{}, newEvaluator(t, &fakePrices{series: risingSeries(60)}, 0.95),
		decisions, newGate(t, gw, nil, RepeatEveryTick), rec, metrics.Nop{}, logger.Nop())

	d, err := s.Analyze(context.Background(), " infy ")
	require.NoError(t, err)
	assert.Equal(t, "INFY", d.Symbol)
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.Empty(t, gw.requests())

	cached, ok := decisions.Get("INFY")
	require.True(t, ok)
	assert.Equal(t, d.Score, cached.Score)
	require.Len(t, rec.events(), 1)
	assert.Equal(t, SourceAnalyze, rec.events()[0].Source)

	_, err = s.Analyze(context.Background(), "")
	assert.Error(t, err)
}

func TestTradeGateCooldown(t *testing.T) {
	locks := pkgcache.NewMemoryCache()
	defer locks.Close()
	gw := &fakeGateway{}
	g := newGate(t, gw, locks, RepeatCooldown)
	ctx := context.Background()
	d := models.AggregatedDecision{Symbol: "INFY", Score: 0.9}

	first := g.Apply(ctx, d)
	require.NotNil(t, first)
	assert.Equal(t, models.OrderStatusSuccess, first.Status)
	assert.Nil(t, g.Apply(ctx, d))

	// other side has its own lock
	sell := g.Apply(ctx, models.AggregatedDecision{Symbol: "INFY", Score: 0.1})
	require.NotNil(t, sell)
	assert.Equal(t, models.SideSell, sell.Side)
	assert.Len(t, gw.requests(), 2)

	assert.Nil(t, g.Apply(ctx, models.AggregatedDecision{Symbol: "INFY", Score: 0.5}))
}

func TestTradeGateFailureReleasesCooldown(t *testing.T) {
	locks := pkgcache.NewMemoryCache()
	defer locks.Close()
	gw := &fakeGateway{err: errors.New("connection reset")}
	g := newGate(t, gw, locks, RepeatCooldown)
	d := models.AggregatedDecision{Symbol: "TCS", Score: 0.95}

	res := g.Apply(context.Background(), d)
	require.NotNil(t, res)
	assert.Equal(t, models.OrderStatusFailed, res.Status)

	gw.mu.Lock()
	gw.err = nil
	gw.mu.Unlock()
	res = g.Apply(context.Background(), d)
	require.NotNil(t, res)
	assert.Equal(t, models.OrderStatusSuccess, res.Status)
}

func TestTradeGateConfigRules(t *testing.T) {
	_, err := NewTradeGate(TradeGateConfig{Enabled: true, HighThreshold: 0.85, LowThreshold: 0.15, Policy: RepeatCooldown},
		&fakeGateway{}, pkgcache.NewMemoryCache(), metrics.Nop{}, logger.Nop())
	assert.Error(t, err)

	_, err = NewTradeGate(TradeGateConfig{Enabled: true, HighThreshold: 0.85, LowThreshold: 0.15},
		&fakeGateway{}, nil, metrics.Nop{}, logger.Nop())
	assert.Error(t, err)

	g, err := NewTradeGate(TradeGateConfig{}, nil, nil, metrics.Nop{}, logger.Nop())
	require.NoError(t, err)
	assert.False(t, g.Enabled())
	assert.Nil(t, g.Apply(context.Background(), models.AggregatedDecision{Score: 1}))

	assert.True(t, newGate(t, &fakeGateway{}, nil, RepeatEveryTick).Enabled())
}

func TestTradeGateExecuteMapsErrors(t *testing.T) {
	gw := &fakeGateway{err: errors.New("dial tcp: timeout")}
	g := newGate(t, gw, nil, RepeatEveryTick)

	res, err := g.Execute(context.Background(), "infy", models.SideSell, 3)
	assert.ErrorIs(t, err, domrepo.ErrNetwork)
	assert.Equal(t, models.OrderStatusFailed, res.Status)
	assert.Equal(t, "INFY", gw.requests()[0].Symbol)
	assert.Equal(t, 3, gw.requests()[0].Quantity)

	gw.err = domrepo.ErrOrderRejected
	_, err = g.Execute(context.Background(), "INFY", models.SideBuy, 1)
	assert.ErrorIs(t, err, domrepo.ErrOrderRejected)
}

type fakePublisher struct {
	evs    []models.DecisionEvent
	err    error
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, ev models.DecisionEvent) error {
	if p.err != nil {
		return p.err
	}
	p.evs = append(p.evs, ev)
	return nil
}

func (p *fakePublisher) Close() error { p.closed = true; return nil }

func TestDecisionRecorderRoutesAndMirrors(t *testing.T) {
	mirror := pkgcache.NewMemoryCache()
	defer mirror.Close()
	pub := &fakePublisher{}
	r, err := NewDecisionRecorder(BackendKafka, pub, nil, mirror, time.Hour, metrics.Nop{}, logger.Nop())
	require.NoError(t, err)

	ev := models.DecisionEvent{ID: "01J", Source: SourceTick, Decision: models.AggregatedDecision{Symbol: "INFY", Score: 0.6, Action: models.ActionHold}}
	require.NoError(t, r.Record(context.Background(), ev))
	require.Len(t, pub.evs, 1)

	d, err := r.Mirrored(context.Background(), "INFY")
	require.NoError(t, err)
	assert.Equal(t, 0.6, d.Score)

	_, err = r.Mirrored(context.Background(), "TCS")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	pub.err = errors.New("leader not available")
	assert.Error(t, r.Record(context.Background(), ev))

	r.Close()
	assert.True(t, pub.closed)
}

func TestDecisionRecorderBackends(t *testing.T) {
	_, err := NewDecisionRecorder(BackendKafka, nil, nil, nil, 0, metrics.Nop{}, logger.Nop())
	assert.Error(t, err)
	_, err = NewDecisionRecorder(BackendClickHouse, nil, nil, nil, 0, metrics.Nop{}, logger.Nop())
	assert.Error(t, err)
	_, err = NewDecisionRecorder("s3", nil, nil, nil, 0, metrics.Nop{}, logger.Nop())
	assert.Error(t, err)

	r, err := NewDecisionRecorder("", nil, nil, nil, 0, metrics.Nop{}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, BackendNone, r.Backend())
	assert.NoError(t, r.Record(context.Background(), models.DecisionEvent{ID: "x"}))
	evs, err := r.Recent(context.Background(), "INFY", 10)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
	assert.Nil(t, evs)

	r, err = NewDecisionRecorder(BackendKafka, &fakePublisher{}, nil, nil, 0, metrics.Nop{}, logger.Nop())
	require.NoError(t, err)
	_, err = r.Recent(context.Background(), "INFY", 10)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	r, err = NewDecisionRecorder(BackendRedis, &fakePublisher{}, nil, nil, 0, metrics.Nop{}, logger.Nop())
	require.NoError(t, err)
	_, err = r.Recent(context.Background(), "INFY", 10)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	j := &memJournal{stored: []models.DecisionEvent{{ID: "q1"}}}
	r, err = NewDecisionRecorder(BackendRedis, &fakePublisher{}, j, nil, 0, metrics.Nop{}, logger.Nop())
	require.NoError(t, err)
	evs, err = r.Recent(context.Background(), "INFY", 10)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

type sinkFunc func(models.Article) bool

func (f sinkFunc) Add(a models.Article) bool { return f(a) }

func TestNewsIngestHandler(t *testing.T) {
	var got []models.Article
	h := NewNewsIngestHandler("news.raw", sinkFunc(func(a models.Article) bool {
		got = append(got, a)
		return true
	}), metrics.Nop{})
	assert.Equal(t, "news.raw", h.Topic())

	msg := `{"symbol":"INFY","symbols":["TCS"],"title":"Infosys wins deal","url":"https://x/1","published_at":"2024-03-01T10:00:00Z"}`
	require.NoError(t, h.Handle(context.Background(), []byte(msg)))
	require.Len(t, got, 2)
	assert.Equal(t, "INFY", got[0].Symbol)
	assert.Equal(t, "TCS", got[1].Symbol)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), got[0].PublishedAt)

	got = nil
	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"SBIN","title":"t","published_at":1709287200}`)))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1709287200), got[0].PublishedAt.Unix())

	assert.Error(t, h.Handle(context.Background(), []byte(`{"symbol":"SBIN"}`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"title":"orphan"}`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))
}

type memJournal struct {
	stored []models.DecisionEvent
	err    error
}

func (j *memJournal) Init(context.Context) error { return nil }
func (j *memJournal) Store(_ context.Context, ev models.DecisionEvent) error {
	if j.err != nil {
		return j.err
	}
	j.stored = append(j.stored, ev)
	return nil
}
func (j *memJournal) StoreBatch(ctx context.Context, evs []models.DecisionEvent) error {
	for _, ev := range evs {
		if err := j.Store(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
func (j *memJournal) Recent(context.Context, string, int) ([]models.DecisionEvent, error) {
	return j.stored, nil
}
func (j *memJournal) Health(context.Context) error { return nil }
func (j *memJournal) Close() error                 { return nil }

func TestJournalJobStoresQueuedEvents(t *testing.T) {
	j := &memJournal{}
	job := NewJournalJob(j, metrics.Nop{})
	assert.Equal(t, "decision_event", job.Type())

	payload := []byte(`{"id":"01HX","source":"tick","decision":{"symbol":"INFY","score":0.9,"action":"BUY","signals":[],"computed_at":"2024-03-01T10:00:00Z","trade_executed":true}}`)
	require.NoError(t, job.Handle(context.Background(), json.RawMessage(payload)))
	require.Len(t, j.stored, 1)
	assert.Equal(t, "INFY", j.stored[0].Decision.Symbol)
	assert.True(t, j.stored[0].Decision.TradeExecuted)

	j.err = errors.New("table missing")
	assert.Error(t, job.Handle(context.Background(), json.RawMessage(payload)))
	assert.Error(t, job.Handle(context.Background(), 3.14))
}

func TestDecisionRecorderClickHouseBatch(t *testing.T) {
	j := &memJournal{}
	r, err := NewDecisionRecorder(BackendClickHouse, nil, j, nil, 0, metrics.Nop{}, logger.Nop())
	require.NoError(t, err)

	evs := []models.DecisionEvent{
		{ID: "1", Decision: models.AggregatedDecision{Symbol: "INFY"}},
		{ID: "2", Decision: models.AggregatedDecision{Symbol: "TCS"}},
	}
	require.NoError(t, r.RecordBatch(context.Background(), evs))
	got, err := r.Recent(context.Background(), "INFY", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestNormalizeEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := NormalizeEvent(models.DecisionEvent{Decision: models.AggregatedDecision{Symbol: " infy ", ComputedAt: at}})
	assert.Equal(t, "INFY", ev.Decision.Symbol)
	assert.Equal(t, SourceTick, ev.Source)
	require.NotEmpty(t, ev.ID)
	got, ok := util.IDTime(ev.ID)
	require.True(t, ok)
	assert.Equal(t, at.UnixMilli(), got.UnixMilli())

	kept := NormalizeEvent(models.DecisionEvent{ID: "01J", Source: SourceAnalyze, Decision: models.AggregatedDecision{Symbol: "TCS"}})
	assert.Equal(t, "01J", kept.ID)
	assert.Equal(t, SourceAnalyze, kept.Source)

	assert.Empty(t, NormalizeEvent(models.DecisionEvent{}).ID)
}
