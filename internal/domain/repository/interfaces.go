package repository

import (
	"context"
	"time"

	"TradeLoop/internal/domain/models"
)

// PriceSeriesProvider supplies OHLCV history. Failures wrap ErrDataUnavailable.
type PriceSeriesProvider interface {
	Fetch(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error)
}

// WatchlistProvider returns the ordered set of instruments to evaluate.
type WatchlistProvider interface {
	List(ctx context.Context) ([]string, error)
}

// OrderGateway places orders. Failures wrap ErrOrderRejected or ErrNetwork.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
}

// LastPriceProvider returns the last traded price.
type LastPriceProvider interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// OptionChainProvider returns the nearest-expiry option chain.
type OptionChainProvider interface {
	OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error)
}

// NewsSource returns recent articles that may concern symbol.
type NewsSource interface {
	Articles(ctx context.Context, symbol string) ([]models.Article, error)
}

// DecisionRecorder persists or publishes decision events.
type DecisionRecorder interface {
	Record(ctx context.Context, ev models.DecisionEvent) error
}

// DecisionPublisher streams decision events (Kafka).
type DecisionPublisher interface {
	Publish(ctx context.Context, ev models.DecisionEvent) error
	Close() error
}

// DecisionJournal stores decision events for later query (ClickHouse).
type DecisionJournal interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, ev models.DecisionEvent) error
	StoreBatch(ctx context.Context, evs []models.DecisionEvent) error
	Recent(ctx context.Context, symbol string, limit int) ([]models.DecisionEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics is the instrumentation surface of the decision loop.
type Metrics interface {
	RecordTick(d time.Duration)
	RecordEvaluation(result string)
	RecordSignal(producer, action string, degraded bool)
	RecordScore(symbol string, score float64)
	RecordOrder(side, status string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
