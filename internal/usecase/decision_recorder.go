package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	drepo "TradeLoop/internal/domain/repository"
	"TradeLoop/pkg/cache"
	"TradeLoop/pkg/logger"
	"TradeLoop/pkg/util"
)

const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	// BackendRedis enqueues events on a Redis work queue; JournalJob drains it.
	BackendRedis = "redis"
)

// DecisionRecorder routes decision events to the configured backend and
// mirrors the latest decision per symbol into the cache service.
type DecisionRecorder struct {
	pub       drepo.DecisionPublisher
	journal   drepo.DecisionJournal
	mirror    cache.Service
	mirrorTTL time.Duration
	metrics   drepo.Metrics
	log       *logger.Logger
	backend   string
}

// NewDecisionRecorder checks that the selected backend has an
// implementation. mirror may be nil.
func NewDecisionRecorder(
	backend string,
	pub drepo.DecisionPublisher,
	journal drepo.DecisionJournal,
	mirror cache.Service,
	mirrorTTL time.Duration,
	metrics drepo.Metrics,
	log *logger.Logger,
) (*DecisionRecorder, error) {
	if backend == "" {
		backend = BackendNone
	}
	switch backend {
	case BackendNone:
	case BackendKafka, BackendRedis:
		if pub == nil {
			return nil, fmt.Errorf("decision recorder: %s backend without publisher", backend)
		}
	case BackendClickHouse:
		if journal == nil {
			return nil, fmt.Errorf("decision recorder: clickhouse backend without journal")
		}
	default:
		return nil, fmt.Errorf("decision recorder: unknown backend %q", backend)
	}
	return &DecisionRecorder{
		pub:       pub,
		journal:   journal,
		mirror:    mirror,
		mirrorTTL: mirrorTTL,
		metrics:   metrics,
		log:       log,
		backend:   backend,
	}, nil
}

func (r *DecisionRecorder) Backend() string { return r.backend }

// Record publishes or stores one event. A mirror failure is logged only.
func (r *DecisionRecorder) Record(ctx context.Context, ev models.DecisionEvent) error {
	start := time.Now()
	r.mirrorDecision(ctx, ev.Decision)

	var err error
	switch r.backend {
	case BackendKafka, BackendRedis:
		err = r.pub.Publish(ctx, ev)
	case BackendClickHouse:
		err = r.journal.Store(ctx, ev)
	}
	if err != nil {
		r.metrics.RecordError("record")
		return fmt.Errorf("record decision %s: %w", ev.ID, err)
	}
	r.metrics.RecordLatency("record", time.Since(start).Seconds())
	return nil
}

// RecordBatch records several events at once.
func (r *DecisionRecorder) RecordBatch(ctx context.Context, evs []models.DecisionEvent) error {
	if len(evs) == 0 {
		return nil
	}
	start := time.Now()
	for _, ev := range evs {
		r.mirrorDecision(ctx, ev.Decision)
	}

	var err error
	switch r.backend {
	case BackendKafka, BackendRedis:
		for _, ev := range evs {
			if err = r.pub.Publish(ctx, ev); err != nil {
				break
			}
		}
	case BackendClickHouse:
		err = r.journal.StoreBatch(ctx, evs)
	}
	if err != nil {
		r.metrics.RecordError("record_batch")
		return fmt.Errorf("record batch: %w", err)
	}
	r.metrics.RecordLatency("record_batch", time.Since(start).Seconds())
	return nil
}

// Recent reads back journaled events. History exists for the clickhouse
// backend and for the redis backend when its queue drains into the journal.
// Otherwise it returns drepo.ErrNotFound.
func (r *DecisionRecorder) Recent(ctx context.Context, symbol string, limit int) ([]models.DecisionEvent, error) {
	keeps := r.backend == BackendClickHouse || (r.backend == BackendRedis && r.journal != nil)
	if !keeps {
		return nil, fmt.Errorf("decision history on %s backend: %w", r.backend, drepo.ErrNotFound)
	}
	return r.journal.Recent(ctx, symbol, limit)
}

// Mirrored reads the decision mirrored under decision:{symbol}.
func (r *DecisionRecorder) Mirrored(ctx context.Context, symbol string) (models.AggregatedDecision, error) {
	if r.mirror == nil {
		return models.AggregatedDecision{}, drepo.ErrNotFound
	}
	d, err := cache.GetTyped[models.AggregatedDecision](ctx, r.mirror, cache.Key("decision", symbol))
	if err != nil {
		return models.AggregatedDecision{}, fmt.Errorf("%w: %v", drepo.ErrNotFound, err)
	}
	return d, nil
}

func (r *DecisionRecorder) mirrorDecision(ctx context.Context, d models.AggregatedDecision) {
	if r.mirror == nil || d.Symbol == "" {
		return
	}
	if err := r.mirror.Set(ctx, cache.Key("decision", d.Symbol), d, r.mirrorTTL); err != nil {
		r.metrics.RecordError("mirror")
		r.log.Warn("mirror decision", logger.String("symbol", d.Symbol), logger.Error(err))
	}
}

// NormalizeEvent canonicalises an event before it is recorded: the symbol is
// trimmed and upper-cased, a missing source means a tick, and a missing id is
// derived from the decision time.
func NormalizeEvent(ev models.DecisionEvent) models.DecisionEvent {
	ev.Decision.Symbol = strings.ToUpper(strings.TrimSpace(ev.Decision.Symbol))
	if ev.Source == "" {
		ev.Source = SourceTick
	}
	if ev.ID == "" && !ev.Decision.ComputedAt.IsZero() {
		ev.ID = util.NewIDAt(ev.Decision.ComputedAt)
	}
	return ev
}

// Close releases the backend connections.
func (r *DecisionRecorder) Close() {
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.journal != nil {
		_ = r.journal.Close()
	}
}

var _ drepo.DecisionRecorder = (*DecisionRecorder)(nil)
