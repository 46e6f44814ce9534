package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"TradeLoop/pkg/logger"
	"TradeLoop/pkg/util"

	"github.com/redis/go-redis/v9"
)

type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	}
	return "producer-consumer"
}

// RedisQueue is a list-backed work queue. Failed messages wait in a sorted
// set until their retry time and land in a dead-letter list after
// RetryLimit retries.
type RedisQueue struct {
	log    *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	mode   QueueMode
	prefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedisQueue(l *logger.Logger, cfg QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if l == nil {
		l = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisQueue{
		log:    l.With("queue"),
		cfg:    cfg,
		client: client,
		mode:   mode,
		prefix: "tradeloop:queue",
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob adds a consumer for job.Type(). Ignored in producer-only mode.
func (r *RedisQueue) RegisterJob(job Job) {
	if r.mode == ModeProducerOnly {
		r.log.Warn("job registration ignored in producer-only mode", logger.String("job", job.Name()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis and, in consumer modes, launches the workers and the
// retry mover.
func (r *RedisQueue) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("queue already running")
	}
	r.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	if r.mode != ModeProducerOnly {
		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.worker(i)
		}
		r.wg.Add(1)
		go r.retryLoop()
	}
	r.log.Info("redis queue started",
		logger.String("mode", r.mode.String()),
		logger.Int("workers", r.cfg.Workers),
		logger.String("addr", r.client.Options().Addr))
	return nil
}

// Stop cancels the workers and waits for them until ctx ends.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

// Enqueue pushes a message. In consumer modes the type must have a job.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return errors.New("queue not running")
	}
	if r.mode != ModeProducerOnly && !known {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	now := time.Now()
	b, err := json.Marshal(Message{ID: util.NewIDAt(now), Type: msgType, Payload: payload, Timestamp: now})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), b).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// Depth returns the number of ready, delayed and dead messages.
func (r *RedisQueue) Depth(ctx context.Context) (ready, delayed, dead int64, err error) {
	pipe := r.client.Pipeline()
	rc := pipe.LLen(ctx, r.key("messages"))
	dc := pipe.ZCard(ctx, r.key("retry"))
	xc := pipe.LLen(ctx, r.key("dlq"))
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return rc.Val(), dc.Val(), xc.Val(), nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		r.pop()
	}
	r.log.Debug("queue worker stopped", logger.Int("worker_id", id))
}

func (r *RedisQueue) pop() {
	res, err := r.client.BRPop(r.ctx, time.Second, r.key("messages")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		r.log.Error("brpop", logger.Error(err))
		select {
		case <-r.ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if len(res) < 2 {
		return
	}

	var raw struct {
		Message
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(res[1]), &raw); err != nil {
		r.log.Error("unmarshal message", logger.Error(err))
		return
	}
	msg := raw.Message
	msg.Payload = raw.Payload
	r.process(msg)
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(msg)
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		r.log.Warn("message cancelled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", time.Since(start)))
		return
	}

	r.log.Error("message failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))
	if msg.Attempts >= r.cfg.RetryLimit {
		r.deadLetter(msg)
		return
	}
	msg.Attempts++
	r.scheduleRetry(msg, time.Now().Add(r.cfg.RetryDelay))
}

func (r *RedisQueue) scheduleRetry(msg Message, at time.Time) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal retry", logger.Error(err))
		return
	}
	ctx := context.WithoutCancel(r.ctx)
	if err := r.client.ZAdd(ctx, r.key("retry"), redis.Z{Score: float64(at.Unix()), Member: b}).Err(); err != nil {
		r.log.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal dlq", logger.Error(err))
		return
	}
	ctx := context.WithoutCancel(r.ctx)
	if err := r.client.LPush(ctx, r.key("dlq"), b).Err(); err != nil {
		r.log.Error("dead letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

// retryLoop moves due messages from the retry set back onto the list.
func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.requeueDue()
		}
	}
}

func (r *RedisQueue) requeueDue() {
	due, err := r.client.ZRangeByScore(r.ctx, r.key("retry"), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Error("fetch retries", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		if r.ctx.Err() != nil {
			return
		}
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.key("retry"), member)
		pipe.LPush(r.ctx, r.key("messages"), member)
		if _, err := pipe.Exec(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("requeue retry", logger.Error(err))
		}
	}
}

func (r *RedisQueue) key(suffix string) string {
	return r.prefix + ":" + suffix
}

var _ QueueService = (*RedisQueue)(nil)
