package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	applogger "TradeLoop/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// Producer wraps a kafka-go writer. Messages are hashed by key so every
// event for one symbol lands on the same partition, in order.
type Producer struct {
	writer *kafka.Writer
	log    *applogger.Logger
}

// NewProducer creates a new Kafka producer.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		Registerer:   prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}

	registerProducerMetrics(cfg.Registerer)
	return &Producer{writer: writer, log: cfg.Logger.With("kafka.producer")}, nil
}

// Publish sends one message; value is JSON-encoded unless it is already
// []byte or string.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	v, err := encodeValue(value)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: v,
		Time:  start,
	})
	observeProducer(topic, len(v), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// PublishMessage publishes an unkeyed payload. It satisfies the log
// collector's publisher contract.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

// Close flushes pending writes and closes the producer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.log.Warn("kafka writer close", applogger.Error(err))
		return err
	}
	return nil
}

func encodeValue(value interface{}) ([]byte, error) {
	switch val := value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return b, nil
	}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Gzip
	}
}

var (
	producerMsgsTotal   *prometheus.CounterVec
	producerBytesTotal  *prometheus.CounterVec
	producerLatencyHist *prometheus.HistogramVec
	producerOnce        sync.Once
)

func registerProducerMetrics(reg prometheus.Registerer) {
	producerOnce.Do(func() {
		producerMsgsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradeloop",
				Name:      "kafka_producer_messages_total",
				Help:      "Messages published to Kafka",
			},
			[]string{"topic", "result"},
		)
		producerBytesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradeloop",
				Name:      "kafka_producer_bytes_total",
				Help:      "Payload bytes published",
			},
			[]string{"topic"},
		)
		producerLatencyHist = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tradeloop",
				Name:      "kafka_producer_publish_seconds",
				Help:      "Publish latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"topic"},
		)
		if reg != nil {
			reg.MustRegister(producerMsgsTotal, producerBytesTotal, producerLatencyHist)
		}
	})
}

func observeProducer(topic string, bytes int, dur time.Duration, err error) {
	if producerMsgsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMsgsTotal.WithLabelValues(topic, result).Inc()
	producerBytesTotal.WithLabelValues(topic).Add(float64(bytes))
	producerLatencyHist.WithLabelValues(topic).Observe(dur.Seconds())
}
