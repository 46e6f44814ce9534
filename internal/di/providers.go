package di

import (
	"context"
	"fmt"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	domsvc "TradeLoop/internal/domain/service"
	"TradeLoop/internal/handler/api"
	mid "TradeLoop/internal/middleware"
	internalrepo "TradeLoop/internal/repository"
	"TradeLoop/internal/service/broker"
	svccache "TradeLoop/internal/service/cache"
	"TradeLoop/internal/service/quotes"
	"TradeLoop/internal/service/ratelimit"
	"TradeLoop/internal/services/analytics"
	"TradeLoop/internal/services/news"
	"TradeLoop/internal/services/signals"
	"TradeLoop/internal/usecase"
	pkgcache "TradeLoop/pkg/cache"
	pkgch "TradeLoop/pkg/clickhouse"
	"TradeLoop/pkg/config"
	xhttp "TradeLoop/pkg/http"
	pkgkafka "TradeLoop/pkg/kafka"
	applogger "TradeLoop/pkg/logger"
	"TradeLoop/pkg/metrics"
	"TradeLoop/pkg/queue"
	"TradeLoop/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

const decisionsTable = "decisions"

// Broker is everything the loop needs from a brokerage account.
type Broker interface {
	domrepo.PriceSeriesProvider
	domrepo.LastPriceProvider
	domrepo.OptionChainProvider
	domrepo.OrderGateway
	domrepo.WatchlistProvider
}

var (
	_ Broker = (*broker.Paper)(nil)
	_ Broker = (*broker.REST)(nil)
)

// ProducerSet splits the producers into the parallel phase and the analyst
// that runs after it.
type ProducerSet struct {
	Parallel []domsvc.SignalProducer
	Analyst  domsvc.SignalProducer
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedisCache connects to Redis when enabled; nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		pkgcache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
		pkgcache.WithRedisPool(20, 5, 5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCacheService puts an in-process layer in front of Redis, or falls
// back to memory only.
func ProvideCacheService(rc *pkgcache.RedisCache) pkgcache.Service {
	if rc != nil {
		return pkgcache.NewLayeredCache(rc, pkgcache.WithLayeredMemory(2000, time.Minute))
	}
	return pkgcache.NewMemoryCache(
		pkgcache.WithMemoryMaxSize(10000),
		pkgcache.WithMemoryCleanup(time.Minute),
	)
}

// ProvideHTTPClient creates the outbound HTTP client shared by broker and news.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Broker.Timeout))
}

// ProvideClickHouseClient creates a ClickHouse client and its schema, or
// returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database, cfg.Prices.Table, decisionsTable)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when Kafka is enabled.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithProducerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideBroker picks the simulated or the REST broker.
func ProvideBroker(cfg *config.Config, hc *xhttp.Client, l *applogger.Logger) Broker {
	if cfg.Broker.Type == "rest" {
		return broker.NewREST(broker.RESTConfig{
			BaseURL:     cfg.Broker.BaseURL,
			APIKey:      cfg.Broker.APIKey,
			ClientCode:  cfg.Broker.ClientCode,
			Exchange:    cfg.Broker.Exchange,
			Interval:    cfg.Broker.Interval,
			ProductType: cfg.Broker.ProductType,
		}, hc, l)
	}
	return broker.NewPaper(cfg.Broker.PaperSeed, cfg.Watchlist.Symbols, l)
}

// ProvideWatchlist prefers configured symbols over the broker's list.
func ProvideWatchlist(cfg *config.Config, b Broker, l *applogger.Logger) *broker.Watchlist {
	return broker.NewWatchlist(cfg.Watchlist.Symbols, b, l)
}

// ProvidePriceSource reads candles from the broker or from ClickHouse.
func ProvidePriceSource(cfg *config.Config, b Broker, ch *pkgch.Client, l *applogger.Logger) domrepo.PriceSeriesProvider {
	if cfg.Prices.Source == "clickhouse" && ch != nil {
		store := internalrepo.NewCHPriceStore(ch, cfg.ClickHouse.Database+"."+cfg.Prices.Table)
		store.SetLogger(l)
		return store
	}
	return b
}

// ProvideQuoteStream creates the live quote stream when enabled.
func ProvideQuoteStream(cfg *config.Config, wl *broker.Watchlist, b Broker, l *applogger.Logger) *quotes.Stream {
	if !cfg.Quotes.Enabled {
		return nil
	}
	return quotes.NewStream(quotes.Config{
		URL:            cfg.Quotes.WebSocketURL,
		APIKey:         cfg.Quotes.APIKey,
		ReconnectDelay: cfg.Quotes.ReconnectDelay,
		PingInterval:   cfg.Quotes.PingInterval,
		MaxAge:         cfg.Quotes.MaxAge,
	}, wl, b, l)
}

// ProvideLastPrice serves streamed quotes first, broker quotes otherwise.
func ProvideLastPrice(b Broker, stream *quotes.Stream) domrepo.LastPriceProvider {
	if stream != nil {
		return stream
	}
	return b
}

// ProvideArticleStore keeps pushed articles for the kafka news source.
func ProvideArticleStore(cfg *config.Config) *news.ArticleStore {
	return news.NewArticleStore(cfg.News.StoreSize)
}

// ProvideNewsSource returns nil when news is disabled.
func ProvideNewsSource(cfg *config.Config, hc *xhttp.Client, rc *pkgcache.RedisCache, store *news.ArticleStore, l *applogger.Logger) domrepo.NewsSource {
	if cfg.News.Disabled {
		return nil
	}
	if cfg.News.Source == "kafka" {
		return store
	}

	var bc svccache.BytesCache = svccache.NewTTLCache()
	if rc != nil {
		bc = svccache.NewSharedBytesCache(rc, "news")
	}
	return news.NewAPIClient(news.APIConfig{
		BaseURL:      cfg.News.APIURL,
		APIKey:       cfg.News.APIKey,
		LookbackDays: cfg.News.LookbackDays,
		PageSize:     cfg.News.PageSize,
		CacheTTL:     cfg.News.CacheTTL,
	}, hc, bc, news.NewCompanies(cfg.News.Companies), l)
}

// ProvideProducers builds every signal producer, each behind a guard.
// Unconfigured remote producers are still registered; their guard reports
// a degraded signal.
func ProvideProducers(cfg *config.Config, b Broker, last domrepo.LastPriceProvider, source domrepo.NewsSource) ProducerSet {
	timeout := cfg.Scheduler.ProducerTimeout

	var statistical, sequence, analyst domsvc.SignalProducer
	if cfg.Models.ServiceURL != "" {
		base := analytics.NewHTTPServiceBase(cfg.Models.ServiceURL, cfg.Models.Timeout, cfg.Models.Retries)
		statistical = signals.NewStatisticalML(analytics.NewHTTPClassifier(base, cfg.Models.StatisticalName), cfg.Models.StatisticalName, cfg.Models.StatisticalMinBars)
		sequence = signals.NewSequenceModel(analytics.NewHTTPClassifier(base, cfg.Models.SequenceName), cfg.Models.SequenceName, cfg.Models.SequenceLength)
	}
	if cfg.Analyst.BaseURL != "" {
		base := analytics.NewHTTPServiceBase(cfg.Analyst.BaseURL, cfg.Analyst.Timeout, 1)
		analyst = signals.NewAnalyst(analytics.NewChatReasoner(base, analytics.ChatConfig{
			APIKey:      cfg.Analyst.APIKey,
			Model:       cfg.Analyst.Model,
			Temperature: cfg.Analyst.Temperature,
			MaxTokens:   cfg.Analyst.MaxTokens,
		}))
	}

	set := ProducerSet{
		Parallel: []domsvc.SignalProducer{
			signals.Guard(models.ProducerTechnical, signals.NewTechnical(signals.TechnicalConfig{
				BuyConfidence:  cfg.Technical.BuyConfidence,
				SellConfidence: cfg.Technical.SellConfidence,
				HoldConfidence: cfg.Technical.HoldConfidence,
			}), timeout),
			signals.Guard(models.ProducerStatisticalML, statistical, timeout),
			signals.Guard(models.ProducerSequenceModel, sequence, timeout),
			signals.Guard(models.ProducerOptionFlow, signals.NewOptionFlow(signals.DefaultOptionFlowConfig(), b, last), timeout),
		},
		Analyst: signals.Guard(models.ProducerLanguageModel, analyst, timeout),
	}
	if source != nil {
		p := signals.NewNewsSentiment(source, news.NewLexiconScorer(), news.NewCompanies(cfg.News.Companies))
		set.Parallel = append(set.Parallel, signals.Guard(models.ProducerNewsSentiment, p, timeout))
	}
	return set
}

// ProvideAggregator validates weights and thresholds; a bad configuration
// stops startup.
func ProvideAggregator(cfg *config.Config) (*usecase.Aggregator, error) {
	weights, err := usecase.ParseWeights(cfg.Aggregator.Weights)
	if err != nil {
		return nil, err
	}
	return usecase.NewAggregator(weights, usecase.Thresholds{
		Buy:  cfg.Aggregator.BuyThreshold,
		Sell: cfg.Aggregator.SellThreshold,
	})
}

// ProvideEvaluator assembles one evaluation pass.
func ProvideEvaluator(
	cfg *config.Config,
	prices domrepo.PriceSeriesProvider,
	set ProducerSet,
	agg *usecase.Aggregator,
	last domrepo.LastPriceProvider,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Evaluator {
	return usecase.NewEvaluator(prices, set.Parallel, agg, m, l,
		usecase.WithAnalyst(set.Analyst),
		usecase.WithLastPrice(last),
		usecase.WithLookback(cfg.Scheduler.Lookback),
		usecase.WithFetchTimeout(cfg.Scheduler.FetchTimeout),
	)
}

// ProvideTradeGate creates the automatic order gate. Cooldown locks live in
// the shared cache so replicas do not double-trade.
func ProvideTradeGate(cfg *config.Config, b Broker, locks pkgcache.Service, m domrepo.Metrics, l *applogger.Logger) (*usecase.TradeGate, error) {
	return usecase.NewTradeGate(usecase.TradeGateConfig{
		Enabled:       cfg.TradeGate.Enabled,
		HighThreshold: cfg.TradeGate.HighThreshold,
		LowThreshold:  cfg.TradeGate.LowThreshold,
		Quantity:      cfg.TradeGate.Quantity,
		Policy:        usecase.RepeatPolicy(cfg.TradeGate.RepeatPolicy),
		Cooldown:      cfg.TradeGate.Cooldown,
		OrderTimeout:  cfg.TradeGate.OrderTimeout,
	}, b, locks, m, l)
}

// ProvideDecisionQueue creates the Redis work queue used by the redis
// journal backend. It is a consumer too when there is a journal to drain into.
func ProvideDecisionQueue(cfg *config.Config, rc *pkgcache.RedisCache, ch *pkgch.Client, l *applogger.Logger) *queue.RedisQueue {
	if cfg.Journal.Backend != usecase.BackendRedis || rc == nil {
		return nil
	}
	mode := queue.ModeProducerOnly
	if ch != nil {
		mode = queue.ModeProducerConsumer
	}
	return queue.NewRedisQueue(l, queue.QueueConfig{
		Workers:    cfg.Journal.Queue.Workers,
		RetryLimit: cfg.Journal.Queue.RetryLimit,
		RetryDelay: cfg.Journal.Queue.RetryDelay,
	}, rc.Client(), mode, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
}

// ProvideDecisionJournal returns the ClickHouse journal, or nil.
func ProvideDecisionJournal(cfg *config.Config, ch *pkgch.Client) domrepo.DecisionJournal {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHDecisionJournal(ch.DB(), cfg.ClickHouse.Database+"."+decisionsTable, nil)
}

// ProvideDecisionPublisher picks the transport for the kafka and redis
// journal backends.
func ProvideDecisionPublisher(cfg *config.Config, producer *pkgkafka.Producer, q *queue.RedisQueue) domrepo.DecisionPublisher {
	switch {
	case cfg.Journal.Backend == usecase.BackendKafka && producer != nil:
		return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.DecisionsTopic)
	case cfg.Journal.Backend == usecase.BackendRedis && q != nil:
		return internalrepo.NewQueueDecisionPublisher(q)
	}
	return nil
}

// ProvideDecisionRecorder routes decision events to the configured backend.
func ProvideDecisionRecorder(
	cfg *config.Config,
	pub domrepo.DecisionPublisher,
	journal domrepo.DecisionJournal,
	mirror pkgcache.Service,
	m domrepo.Metrics,
	l *applogger.Logger,
) (*usecase.DecisionRecorder, error) {
	return usecase.NewDecisionRecorder(cfg.Journal.Backend, pub, journal, mirror, cfg.Journal.MirrorTTL, m, l)
}

var _ mid.BatchRecorder = (*usecase.DecisionRecorder)(nil)

// ProvideEventPipeline buffers events the recorder could not take.
func ProvideEventPipeline(cfg *config.Config, rec *usecase.DecisionRecorder, m domrepo.Metrics) *mid.EventPipeline {
	return mid.NewEventPipeline(rec, m,
		mid.WithBufferSize(cfg.Journal.BufferSize),
		mid.WithBackoff(cfg.Journal.RetryMin, cfg.Journal.RetryMax),
		mid.WithTransform(usecase.NormalizeEvent),
	)
}

// ProvideScheduler creates the decision loop.
func ProvideScheduler(
	cfg *config.Config,
	wl *broker.Watchlist,
	eval *usecase.Evaluator,
	gate *usecase.TradeGate,
	pipe *mid.EventPipeline,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Scheduler {
	return usecase.NewScheduler(usecase.SchedulerConfig{
		Interval:    cfg.Scheduler.Interval,
		SymbolDelay: cfg.Scheduler.SymbolDelay,
	}, wl, eval, svccache.NewDecisionCache(), gate, pipe, m, l)
}

// ProvideKafkaConsumer consumes pushed news articles; nil unless the kafka
// news source is selected.
func ProvideKafkaConsumer(cfg *config.Config, store *news.ArticleStore, m domrepo.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.News.Disabled || cfg.News.Source != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewNewsIngestHandler(cfg.News.KafkaTopic, store, m))
	return consumer, nil
}

// ProvideRateLimiter bounds the expensive endpoints per client.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
}

// ProvideTradingHandler creates the control surface.
func ProvideTradingHandler(
	l *applogger.Logger,
	sched *usecase.Scheduler,
	gate *usecase.TradeGate,
	wl *broker.Watchlist,
	rec *usecase.DecisionRecorder,
	rl *ratelimit.Limiter,
) *api.TradingEchoHandler {
	return api.NewTradingEchoHandler(l, sched, gate, wl, rec, rl)
}

// ProvideHTTPServer creates the Echo server with the control routes.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.TradingEchoHandler) *xhttp.Server {
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
	)
}

// ProvideApp collects the background components in start order.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	sched *usecase.Scheduler,
	pipe *mid.EventPipeline,
	rec *usecase.DecisionRecorder,
	stream *quotes.Stream,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	journal domrepo.DecisionJournal,
	producer *pkgkafka.Producer,
	cacheSvc pkgcache.Service,
	ch *pkgch.Client,
	rl *ratelimit.Limiter,
	m domrepo.Metrics,
) *server.App {
	opts := []server.Option{
		server.WithComponent(server.Component{
			Name:  "event_pipeline",
			Start: func(ctx context.Context) error { pipe.Start(ctx); return nil },
			Stop:  func(context.Context) error { pipe.Stop(); return nil },
		}),
		server.WithComponent(server.Ticker("ratelimit_prune", time.Minute, func() { rl.Prune(10 * time.Minute) })),
	}

	if stream != nil {
		opts = append(opts, server.WithComponent(server.Runner("quote_stream", stream.Run)))
	}
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
		opts = append(opts, server.WithComponent(server.Component{
			Name:  "kafka_consumer",
			Start: consumer.Start,
			Stop:  consumer.Stop,
		}))
	}
	if q != nil {
		if journal != nil {
			q.RegisterJob(usecase.NewJournalJob(journal, m))
		}
		opts = append(opts, server.WithComponent(server.Component{
			Name:  "decision_queue",
			Start: q.Start,
			Stop:  q.Stop,
		}))
	}

	if producer != nil && cfg.Log.CollectTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.CollectInterval,
			Topic:        cfg.Log.CollectTopic,
			Publisher:    producer,
		})
		opts = append(opts, server.WithCloser("log_collector", func() error { l.RemoveCollector(); return nil }))
	}

	opts = append(opts,
		server.WithCloser("decision_recorder", func() error { rec.Close(); return nil }),
		server.WithCloser("cache", cacheSvc.Close),
	)
	// The kafka decision publisher owns the producer when it is the backend.
	if producer != nil && cfg.Journal.Backend != usecase.BackendKafka {
		opts = append(opts, server.WithCloser("kafka_producer", producer.Close))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch.Close))
	}

	return server.New(cfg, l, srv, sched, opts...)
}
