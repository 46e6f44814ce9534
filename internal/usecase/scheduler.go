package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	svccache "TradeLoop/internal/service/cache"
	"TradeLoop/pkg/logger"
	"TradeLoop/pkg/util"
)

const (
	SourceTick    = "tick"
	SourceAnalyze = "analyze"
)

type SchedulerConfig struct {
	Interval      time.Duration
	SymbolDelay   time.Duration
	SymbolTimeout time.Duration
	ListTimeout   time.Duration
}

// Scheduler owns the decision loop: Idle -> Running -> Stopping -> Idle.
// It is the only writer of the DecisionCache.
type Scheduler struct {
	cfg       SchedulerConfig
	watchlist domrepo.WatchlistProvider
	eval      *Evaluator
	decisions *svccache.DecisionCache
	gate      *TradeGate
	recorder  domrepo.DecisionRecorder
	metrics   domrepo.Metrics
	log       *logger.Logger

	mu     sync.Mutex
	state  models.SchedulerState
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wires the loop. gate and recorder may be nil.
func NewScheduler(
	cfg SchedulerConfig,
	watchlist domrepo.WatchlistProvider,
	eval *Evaluator,
	decisions *svccache.DecisionCache,
	gate *TradeGate,
	recorder domrepo.DecisionRecorder,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.SymbolDelay < 0 {
		cfg.SymbolDelay = 0
	}
	if cfg.SymbolTimeout <= 0 {
		cfg.SymbolTimeout = 2 * time.Minute
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 15 * time.Second
	}
	return &Scheduler{
		cfg:       cfg,
		watchlist: watchlist,
		eval:      eval,
		decisions: decisions,
		gate:      gate,
		recorder:  recorder,
		metrics:   metrics,
		log:       log,
		state:     models.StateIdle,
	}
}

// Start launches the loop and reports whether it did. It returns false when
// the loop is already Running. Starting while Stopping launches a new loop
// that waits for the old one to exit first.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.StateRunning {
		return false
	}

	prev := s.done
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.gen++
	gen := s.gen
	s.state = models.StateRunning
	s.cancel = cancel
	s.done = done

	go s.run(ctx, gen, prev, done)
	s.log.Info("decision loop started",
		logger.Int64("generation", int64(gen)),
		logger.Strings("weighted", s.weightedProducers()),
		logger.Bool("auto_trade", s.gate != nil && s.gate.Enabled()))
	return true
}

func (s *Scheduler) weightedProducers() []string {
	if s.eval == nil || s.eval.agg == nil {
		return nil
	}
	ids := s.eval.agg.Weighted()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// Stop requests cancellation and returns immediately. It reports whether a
// running loop was signalled.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StateRunning {
		return false
	}
	s.state = models.StateStopping
	s.cancel()
	s.log.Info("decision loop stopping")
	return true
}

// Wait blocks until the current loop exits or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) State() models.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the loop is Running.
func (s *Scheduler) Active() bool {
	return s.State() == models.StateRunning
}

// Decisions exposes the read side of the cache.
func (s *Scheduler) Decisions() *svccache.DecisionCache { return s.decisions }

func (s *Scheduler) run(ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.state = models.StateIdle
			s.cancel = nil
		}
		s.mu.Unlock()
		close(done)
		s.log.Info("decision loop stopped", logger.Int64("generation", int64(gen)))
	}()

	if prev != nil {
		<-prev
	}

	for {
		if ctx.Err() != nil {
			return
		}
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Interval):
		}
	}
}

// tick evaluates the watchlist once. Cancellation is honored between symbols;
// a symbol already in flight finishes on a detached context bounded by the
// symbol timeout.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	defer func() { s.metrics.RecordTick(time.Since(start)) }()

	lctx, cancel := context.WithTimeout(ctx, s.cfg.ListTimeout)
	symbols, err := s.watchlist.List(lctx)
	cancel()
	if err != nil {
		s.metrics.RecordError("watchlist")
		s.log.Error("watchlist unavailable", logger.Error(err))
		return
	}

	for i, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		s.processSymbol(context.WithoutCancel(ctx), sym)

		if i < len(symbols)-1 && s.cfg.SymbolDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.SymbolDelay):
			}
		}
	}
	s.log.Debug("tick complete", logger.Int("symbols", len(symbols)), logger.Duration("took", time.Since(start)))
}

func (s *Scheduler) processSymbol(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordError("symbol_panic")
			s.log.Error("symbol evaluation panicked",
				logger.String("symbol", symbol), logger.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SymbolTimeout)
	defer cancel()

	d, err := s.eval.Evaluate(ctx, symbol)
	if err != nil {
		if errors.Is(err, domrepo.ErrDataUnavailable) {
			s.log.Warn("skipping symbol, no data", logger.String("symbol", symbol), logger.Error(err))
		} else {
			s.metrics.RecordError("evaluate")
			s.log.Error("evaluate symbol", logger.String("symbol", symbol), logger.Error(err))
		}
		return
	}
	s.decisions.Set(symbol, d)

	if s.gate != nil {
		if order := s.gate.Apply(ctx, d); order != nil && order.Status == models.OrderStatusSuccess {
			d = d.WithTradeExecuted(order)
			s.decisions.Set(symbol, d)
		}
	}

	s.record(ctx, SourceTick, d)
	s.log.Info("decision",
		logger.String("symbol", symbol),
		logger.String("action", string(d.Action)),
		logger.Float64("score", d.Score),
		logger.Bool("trade_executed", d.TradeExecuted))
}

// Analyze evaluates one symbol on demand and caches the result. It never
// places orders.
func (s *Scheduler) Analyze(ctx context.Context, symbol string) (models.AggregatedDecision, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.AggregatedDecision{}, fmt.Errorf("symbol is required")
	}
	d, err := s.eval.Evaluate(ctx, symbol)
	if err != nil {
		return models.AggregatedDecision{}, err
	}
	s.decisions.Set(symbol, d)
	s.record(ctx, SourceAnalyze, d)
	return d, nil
}

func (s *Scheduler) record(ctx context.Context, source string, d models.AggregatedDecision) {
	if s.recorder == nil {
		return
	}
	ev := models.DecisionEvent{ID: util.NewIDAt(d.ComputedAt), Source: source, Decision: d}
	if err := s.recorder.Record(ctx, ev); err != nil {
		s.log.Warn("decision not recorded",
			logger.String("symbol", d.Symbol), logger.String("id", ev.ID), logger.Error(err))
	}
}
