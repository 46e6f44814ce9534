package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func TestCollectorFoldsDuplicates(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "ops.logs", Publisher: pub})

	fields := map[string]interface{}{"symbol": "INFY"}
	c.AddLog("error", "price fetch failed", fields, "scheduler.go:10")
	c.AddLog("error", "price fetch failed", fields, "scheduler.go:10")
	c.AddLog("error", "order rejected", nil, "trade_gate.go:20")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 10*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "ops.logs", pub.topic)
	require.Len(t, pub.batches[0], 2)
	assert.Equal(t, 2, pub.batches[0][0].Count)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x:1")
	c.AddLog("error", "b", nil, "x:2")

	assert.Equal(t, 0, c.Pending())
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestErrorFieldNil(t *testing.T) {
	k, v := Error(nil).GetKeyValue()
	assert.Equal(t, "error", k)
	assert.Equal(t, "", v)

	_, v = Error(errors.New("boom")).GetKeyValue()
	assert.Equal(t, "boom", v)
}

func TestNopLoggerIsSafe(t *testing.T) {
	l := Nop().With("test")
	l.Info("hello", String("k", "v"), Float64("score", 0.5), Duration("d", time.Second))
	l.Error("boom", Error(errors.New("x")))
}
