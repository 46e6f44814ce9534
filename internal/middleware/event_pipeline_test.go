package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradeLoop/internal/domain/models"
	"TradeLoop/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	got      []string
}

func (s *flakySink) Record(_ context.Context, ev models.DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker down")
	}
	s.got = append(s.got, ev.ID)
	return nil
}

func (s *flakySink) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func ev(id string) models.DecisionEvent {
	return models.DecisionEvent{ID: id, Source: "tick", Decision: models.AggregatedDecision{
		Symbol: "INFY", Score: 0.5, Action: models.ActionHold, ComputedAt: time.Now(),
	}}
}

func TestEventPipelineValidates(t *testing.T) {
	p := NewEventPipeline(&flakySink{}, metrics.Nop{})
	assert.Error(t, p.Record(context.Background(), models.DecisionEvent{}))

	bad := ev("x")
	bad.Decision.Score = 1.5
	assert.Error(t, p.Record(context.Background(), bad))
}

func TestEventPipelineRetriesBufferedEvents(t *testing.T) {
	sink := &flakySink{failures: 2}
	p := NewEventPipeline(sink, metrics.Nop{}, WithBackoff(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.Record(ctx, ev("a")))

	require.Eventually(t, func() bool {
		return len(sink.delivered()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, sink.delivered())
	assert.Equal(t, 0, p.Pending())
}

func TestEventPipelineDropsWhenFull(t *testing.T) {
	sink := &flakySink{failures: 100}
	p := NewEventPipeline(sink, metrics.Nop{}, WithBufferSize(1))

	assert.NoError(t, p.Record(context.Background(), ev("a")))
	err := p.Record(context.Background(), ev("b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropped")
	assert.Equal(t, 1, p.Pending())

	// Stop without Start is a no-op
	p.Stop()
}

func TestEventPipelineTransform(t *testing.T) {
	sink := &flakySink{}
	p := NewEventPipeline(sink, metrics.Nop{}, WithTransform(func(e models.DecisionEvent) models.DecisionEvent {
		e.ID = "prefixed-" + e.ID
		return e
	}))
	require.NoError(t, p.Record(context.Background(), ev("a")))
	assert.Equal(t, []string{"prefixed-a"}, sink.delivered())
}

type batchSink struct {
	flakySink
	batches [][]string
}

func (s *batchSink) RecordBatch(_ context.Context, evs []models.DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(evs))
	for i, e := range evs {
		ids[i] = e.ID
	}
	s.batches = append(s.batches, ids)
	s.got = append(s.got, ids...)
	return nil
}

func (s *batchSink) batchList() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.batches...)
}

func TestEventPipelineFlushesBufferInBatches(t *testing.T) {
	sink := &batchSink{flakySink: flakySink{failures: 3}}
	p := NewEventPipeline(sink, metrics.Nop{}, WithBackoff(time.Millisecond, 5*time.Millisecond))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Record(context.Background(), ev(id)))
	}
	require.Equal(t, 3, p.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(sink.delivered()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, sink.batchList())
	assert.Equal(t, 0, p.Pending())
}
