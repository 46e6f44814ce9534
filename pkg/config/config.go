package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"TradeLoop/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"dev" validate:"required"`
	Server      ServerConfig     `yaml:"server"`
	Log         LogConfig        `yaml:"log"`
	Broker      BrokerConfig     `yaml:"broker"`
	Prices      PricesConfig     `yaml:"prices"`
	Quotes      QuotesConfig     `yaml:"quotes"`
	Watchlist   WatchlistConfig  `yaml:"watchlist"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Aggregator  AggregatorConfig `yaml:"aggregator"`
	TradeGate   TradeGateConfig  `yaml:"trade_gate"`
	Technical   TechnicalConfig  `yaml:"technical"`
	Models      ModelsConfig     `yaml:"models"`
	Analyst     AnalystConfig    `yaml:"analyst"`
	News        NewsConfig       `yaml:"news"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Journal     JournalConfig    `yaml:"journal"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"5000" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string `yaml:"output" default:"stdout"`
	// Aggregated error logs are shipped to Kafka when a topic is set and kafka is enabled.
	CollectTopic    string        `yaml:"collect_topic"`
	CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
}

type BrokerConfig struct {
	Type        string        `yaml:"type" default:"paper" validate:"oneof=paper rest"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	ClientCode  string        `yaml:"client_code"`
	Exchange    string        `yaml:"exchange" default:"NSE"`
	Interval    string        `yaml:"interval" default:"ONE_DAY"`
	ProductType string        `yaml:"product_type" default:"INTRADAY"`
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
	PaperSeed   int64         `yaml:"paper_seed" default:"42"`
}

type PricesConfig struct {
	Source string `yaml:"source" default:"broker" validate:"oneof=broker clickhouse"`
	Table  string `yaml:"table" default:"candles_1d"`
}

type QuotesConfig struct {
	Enabled        bool          `yaml:"enabled"`
	WebSocketURL   string        `yaml:"websocket_url"`
	APIKey         string        `yaml:"api_key"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	MaxAge         time.Duration `yaml:"max_age" default:"2m"`
}

type WatchlistConfig struct {
	// Overrides the broker watchlist when non-empty.
	Symbols []string `yaml:"symbols"`
}

type SchedulerConfig struct {
	Interval        time.Duration `yaml:"interval" default:"60s" validate:"gt=0"`
	SymbolDelay     time.Duration `yaml:"symbol_delay" default:"1s" validate:"gte=0"`
	Lookback        int           `yaml:"lookback" default:"100" validate:"gte=1"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" default:"15s" validate:"gt=0"`
	ProducerTimeout time.Duration `yaml:"producer_timeout" default:"30s" validate:"gt=0"`
	AutoStart       bool          `yaml:"auto_start"`
}

type AggregatorConfig struct {
	Weights       map[string]float64 `yaml:"weights"`
	BuyThreshold  float64            `yaml:"buy_threshold" default:"0.75"`
	SellThreshold float64            `yaml:"sell_threshold" default:"0.25"`
}

const (
	RepeatEveryTick = "every_tick"
	RepeatCooldown  = "cooldown"
)

type TradeGateConfig struct {
	Enabled       bool          `yaml:"enabled"`
	HighThreshold float64       `yaml:"high_threshold" default:"0.85" validate:"gte=0,lte=1"`
	LowThreshold  float64       `yaml:"low_threshold" default:"0.15" validate:"gte=0,lte=1"`
	Quantity      int           `yaml:"quantity" default:"1" validate:"gte=1"`
	RepeatPolicy  string        `yaml:"repeat_policy" validate:"omitempty,oneof=every_tick cooldown"`
	Cooldown      time.Duration `yaml:"cooldown"`
	OrderTimeout  time.Duration `yaml:"order_timeout" default:"10s" validate:"gt=0"`
}

type TechnicalConfig struct {
	BuyConfidence  float64 `yaml:"buy_confidence" default:"0.8" validate:"gte=0,lte=1"`
	SellConfidence float64 `yaml:"sell_confidence" default:"0.7" validate:"gte=0,lte=1"`
	HoldConfidence float64 `yaml:"hold_confidence" default:"0.5" validate:"gte=0,lte=1"`
}

type ModelsConfig struct {
	ServiceURL         string        `yaml:"service_url"`
	Timeout            time.Duration `yaml:"timeout" default:"5s"`
	Retries            int           `yaml:"retries" default:"2" validate:"gte=1"`
	StatisticalName    string        `yaml:"statistical_name" default:"statistical"`
	SequenceName       string        `yaml:"sequence_name" default:"sequence"`
	StatisticalMinBars int           `yaml:"statistical_min_bars" default:"20" validate:"gte=2"`
	SequenceLength     int           `yaml:"sequence_length" default:"60" validate:"gte=2"`
}

type AnalystConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model" default:"deepseek-coder-33b-instruct"`
	Temperature float64       `yaml:"temperature" default:"0.2"`
	MaxTokens   int           `yaml:"max_tokens" default:"1000" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout" default:"30s"`
}

type NewsConfig struct {
	Disabled     bool              `yaml:"disabled"`
	Source       string            `yaml:"source" default:"newsapi" validate:"oneof=newsapi kafka"`
	APIURL       string            `yaml:"api_url" default:"https://newsapi.org/v2"`
	APIKey       string            `yaml:"api_key"`
	LookbackDays int               `yaml:"lookback_days" default:"7" validate:"gte=1"`
	PageSize     int               `yaml:"page_size" default:"20" validate:"gte=1,lte=100"`
	CacheTTL     time.Duration     `yaml:"cache_ttl" default:"10m"`
	KafkaTopic   string            `yaml:"kafka_topic" default:"news.articles"`
	StoreSize    int               `yaml:"store_size" default:"50" validate:"gte=1"`
	Companies    map[string]string `yaml:"companies"`
}

type RateLimitConfig struct {
	Capacity     float64 `yaml:"capacity" default:"5"`
	RefillPerSec float64 `yaml:"refill_per_sec" default:"1"`
}

type JournalConfig struct {
	Backend    string        `yaml:"backend" default:"none" validate:"oneof=none kafka clickhouse redis"`
	BufferSize int           `yaml:"buffer_size" default:"500" validate:"gte=1"`
	MirrorTTL  time.Duration `yaml:"mirror_ttl" default:"24h"`
	// RetryMin and RetryMax bound the redelivery backoff of buffered events.
	RetryMin time.Duration `yaml:"retry_min" default:"50ms"`
	RetryMax time.Duration `yaml:"retry_max" default:"2s"`
	// Queue drives the redis backend: events go onto a Redis list and, when
	// ClickHouse is enabled, local workers drain it into the journal table.
	Queue struct {
		Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	} `yaml:"queue"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"tradeloop"`
}

type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	DecisionsTopic string   `yaml:"decisions_topic" default:"tradeloop.decisions"`
	RequiredAcks   int      `yaml:"required_acks" default:"-1"`
	Compression    string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd none"`
	Producer       struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID     string        `yaml:"group_id" default:"tradeloop"`
		StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
		RetryMax    int           `yaml:"retry_max" default:"3"`
		BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic    string        `yaml:"dlq_topic"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"tradeloop"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

// DefaultWeights is the reference aggregation: statistical and sequence models
// a quarter each, the language-model analyst half.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"statistical_ml": 0.25,
		"sequence_model": 0.25,
		"language_model": 0.5,
	}
}

var validate = validator.New()

// Load reads a YAML configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if len(c.Aggregator.Weights) == 0 {
		c.Aggregator.Weights = DefaultWeights()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides secrets and a few
// deployment knobs with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the given lookup (os.Getenv in production).
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("TRADELOOP_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := getenv("ANALYST_API_KEY"); v != "" {
		c.Analyst.APIKey = v
	}
	if v := getenv("NEWS_API_KEY"); v != "" {
		c.News.APIKey = v
	}
	if v := getenv("QUOTES_API_KEY"); v != "" {
		c.Quotes.APIKey = v
	}
	if v := getenv("WATCHLIST"); v != "" {
		c.Watchlist.Symbols = util.SplitList(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
}

// Validate checks struct tags first, then the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	if c.Broker.Type == "rest" && c.Broker.BaseURL == "" {
		errs = append(errs, errors.New("broker.base_url is required for the rest broker"))
	}
	if c.Prices.Source == "clickhouse" && !c.ClickHouse.Enabled {
		errs = append(errs, errors.New("prices.source=clickhouse requires clickhouse.enabled"))
	}
	if c.Journal.Backend == "kafka" && !c.Kafka.Enabled {
		errs = append(errs, errors.New("journal.backend=kafka requires kafka.enabled"))
	}
	if c.Journal.Backend == "clickhouse" && !c.ClickHouse.Enabled {
		errs = append(errs, errors.New("journal.backend=clickhouse requires clickhouse.enabled"))
	}
	if c.Journal.Backend == "redis" && !c.Redis.Enabled {
		errs = append(errs, errors.New("journal.backend=redis requires redis.enabled"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers cannot be empty when kafka is enabled"))
	}
	if !c.News.Disabled && c.News.Source == "kafka" && !c.Kafka.Enabled {
		errs = append(errs, errors.New("news.source=kafka requires kafka.enabled"))
	}
	if c.Quotes.Enabled && c.Quotes.WebSocketURL == "" {
		errs = append(errs, errors.New("quotes.websocket_url is required when quotes are enabled"))
	}
	if c.TradeGate.Enabled {
		if c.TradeGate.LowThreshold >= c.TradeGate.HighThreshold {
			errs = append(errs, errors.New("trade_gate.low_threshold must be below high_threshold"))
		}
		if c.TradeGate.RepeatPolicy == "" {
			errs = append(errs, errors.New("trade_gate.repeat_policy is required: every_tick or cooldown"))
		}
		if c.TradeGate.RepeatPolicy == RepeatCooldown && c.TradeGate.Cooldown <= 0 {
			errs = append(errs, errors.New("trade_gate.cooldown must be positive with repeat_policy=cooldown"))
		}
	}
	for name, w := range c.Aggregator.Weights {
		if math.IsNaN(w) || w <= 0 {
			continue
		}
		switch name {
		case "statistical_ml", "sequence_model":
			if c.Models.ServiceURL == "" {
				errs = append(errs, fmt.Errorf("models.service_url is required while %s carries weight", name))
			}
		case "language_model":
			if c.Analyst.BaseURL == "" {
				errs = append(errs, errors.New("analyst.base_url is required while language_model carries weight"))
			}
		}
	}
	return errors.Join(errs...)
}
