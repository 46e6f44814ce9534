package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
)

// EventPipeline sits between the scheduler and the decision sink. It
// validates events, forwards them, and buffers them for retry with backoff
// when the sink is unavailable. It never blocks the caller on a failing sink.
type EventPipeline struct {
	sink    domrepo.DecisionRecorder
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan models.DecisionEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	backoffMin time.Duration
	backoffMax time.Duration
	transform  func(models.DecisionEvent) models.DecisionEvent
}

// BatchRecorder is implemented by sinks that accept several events per call.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, evs []models.DecisionEvent) error
}

const maxFlushBatch = 50

type PipelineOption func(*EventPipeline)

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBackoff bounds the retry delay.
func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if min > 0 && max >= min {
			p.backoffMin, p.backoffMax = min, max
		}
	}
}

// WithTransform rewrites events before validation and delivery.
func WithTransform(fn func(models.DecisionEvent) models.DecisionEvent) PipelineOption {
	return func(p *EventPipeline) { p.transform = fn }
}

func NewEventPipeline(sink domrepo.DecisionRecorder, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		sink:       sink,
		metrics:    metrics,
		bufSize:    500,
		stopCh:     make(chan struct{}),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.DecisionEvent, p.bufSize)
	return p
}

// Start launches the retry loop. ctx bounds each redelivery.
func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.retryLoop(ctx)
}

func (p *EventPipeline) retryLoop(ctx context.Context) {
	defer p.wg.Done()
	backoff := p.backoffMin
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case ev := <-p.bufCh:
			failed := p.flush(ctx, p.drain(ev))
			if len(failed) == 0 {
				backoff = p.backoffMin
				p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
				continue
			}
			p.metrics.RecordError("pipeline_flush")
			if backoff < p.backoffMax {
				backoff *= 2
				if backoff > p.backoffMax {
					backoff = p.backoffMax
				}
			}
			select {
			case <-time.After(backoff):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			// requeue if space; drop otherwise
			for _, ev := range failed {
				select {
				case p.bufCh <- ev:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
			}
		}
	}
}

// drain collects first plus whatever else is already buffered, up to
// maxFlushBatch events.
func (p *EventPipeline) drain(first models.DecisionEvent) []models.DecisionEvent {
	batch := []models.DecisionEvent{first}
	for len(batch) < maxFlushBatch {
		select {
		case ev := <-p.bufCh:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

// flush redelivers batch and returns the events that still failed. A sink
// that takes batches gets them in one call and fails or succeeds as a whole.
func (p *EventPipeline) flush(ctx context.Context, batch []models.DecisionEvent) []models.DecisionEvent {
	if br, ok := p.sink.(BatchRecorder); ok && len(batch) > 1 {
		if err := br.RecordBatch(ctx, batch); err != nil {
			return batch
		}
		return nil
	}
	var failed []models.DecisionEvent
	for _, ev := range batch {
		if err := p.sink.Record(ctx, ev); err != nil {
			failed = append(failed, ev)
		}
	}
	return failed
}

// Stop ends the retry loop and waits for it. Buffered events are dropped.
func (p *EventPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
}

// Pending returns the number of events waiting for redelivery.
func (p *EventPipeline) Pending() int { return len(p.bufCh) }

// Record validates and forwards ev. When the sink fails the event is
// buffered for redelivery and Record returns nil; it errors only for an
// invalid event or when the buffer is full and the event is dropped.
func (p *EventPipeline) Record(ctx context.Context, ev models.DecisionEvent) error {
	start := time.Now()
	if p.transform != nil {
		ev = p.transform(ev)
	}
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	if err := p.sink.Record(ctx, ev); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- ev:
			p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
			return nil
		default:
			p.metrics.RecordError("pipeline_buffer_full")
			return fmt.Errorf("pipeline buffer full, event %s dropped: %w", ev.ID, err)
		}
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateEvent(ev models.DecisionEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("event id empty")
	}
	if ev.Decision.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if ev.Decision.ComputedAt.IsZero() {
		return fmt.Errorf("computed_at missing")
	}
	if ev.Decision.Score < 0 || ev.Decision.Score > 1 {
		return fmt.Errorf("score %v out of range", ev.Decision.Score)
	}
	return nil
}

var _ domrepo.DecisionRecorder = (*EventPipeline)(nil)
