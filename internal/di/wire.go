//go:build wireinject
// +build wireinject

package di

import (
	"TradeLoop/pkg/config"
	"TradeLoop/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCacheService,
		ProvideHTTPClient,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Market data
		ProvideBroker,
		ProvideWatchlist,
		ProvidePriceSource,
		ProvideQuoteStream,
		ProvideLastPrice,
		ProvideArticleStore,
		ProvideNewsSource,

		// Decision making
		ProvideProducers,
		ProvideAggregator,
		ProvideEvaluator,
		ProvideTradeGate,

		// Decision journal
		ProvideDecisionQueue,
		ProvideDecisionJournal,
		ProvideDecisionPublisher,
		ProvideDecisionRecorder,
		ProvideEventPipeline,

		ProvideScheduler,
		ProvideKafkaConsumer,

		// Control surface
		ProvideRateLimiter,
		ProvideTradingHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
