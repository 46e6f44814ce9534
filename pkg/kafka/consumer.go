package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	applogger "TradeLoop/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer runs one reader per registered topic. Messages of a topic are
// handled sequentially, retried with jittered backoff and, once retries are
// exhausted, copied to the DLQ topic (when set) before the offset commits.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *applogger.Logger
	handlers map[string]MessageHandler
	readers  []*kafka.Reader
	dlq      *kafka.Writer
	hook     ConsumerHook

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "tradeloop",
		StartOffset: "latest",
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
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

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger.With("kafka.consumer"),
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler registers a message handler for its topic. A second
// handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start launches the readers. They run until Stop or until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return errors.New("no handlers registered")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	startOffset := kafka.LastOffset
	if c.cfg.StartOffset == "earliest" {
		startOffset = kafka.FirstOffset
	}

	for topic, handler := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: startOffset,
		})
		c.readers = append(c.readers, reader)

		c.wg.Add(1)
		go c.consume(ctx, reader, handler)
		c.log.Info("kafka consumer started", applogger.String("topic", topic), applogger.String("group", c.cfg.GroupID))
	}
	return nil
}

// Stop cancels the readers and waits for in-flight handlers, bounded by ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}

		for _, r := range c.readers {
			if err := r.Close(); err != nil {
				c.log.Warn("reader close", applogger.String("topic", r.Config().Topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	})
	return stopErr
}

func (c *Consumer) consume(ctx context.Context, reader *kafka.Reader, handler MessageHandler) {
	defer c.wg.Done()
	topic := handler.Topic()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch message", applogger.String("topic", topic), applogger.Error(err))
			if !sleepCtx(ctx, c.cfg.BackoffMax) {
				return
			}
			continue
		}

		err = c.handle(ctx, handler, msg)
		if err != nil {
			c.log.Error("message dropped after retries",
				applogger.String("topic", topic),
				applogger.Int("partition", msg.Partition),
				applogger.Error(err),
			)
			if c.dlq == nil {
				// leave uncommitted so the group redelivers after restart
				continue
			}
			c.toDLQ(ctx, topic, msg)
		}

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := reader.CommitMessages(cctx, msg); err != nil {
			c.log.Warn("commit offset", applogger.String("topic", topic), applogger.Error(err))
		}
		cancel()
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) (err error) {
	topic := handler.Topic()
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(ctx, handler, msg)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		c.hook.OnError(ctx, topic, msg, msg.Value, err)
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return err
		}
	}
}

func (c *Consumer) handleOnce(ctx context.Context, handler MessageHandler, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	hctx, hmsg, data, err := c.hook.BeforeHandle(ctx, handler.Topic(), msg, msg.Value)
	if err != nil {
		return err
	}
	err = handler.Handle(hctx, data)
	c.hook.AfterHandle(hctx, handler.Topic(), hmsg, data, err)
	return err
}

func (c *Consumer) toDLQ(ctx context.Context, topic string, msg kafka.Message) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(wctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(topic)}},
	})
	if err != nil {
		c.log.Error("dlq write", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt < 32 {
		if d := min * time.Duration(1<<uint(attempt-1)); d > 0 && d < max {
			exp = d
		}
	}
	// up to 50% jitter
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}
