//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"RegimeDesk/pkg/config"
	"RegimeDesk/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// The returned cleanup closes clients in reverse order of creation.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideRedisCache,
		ProvideCache,
		ProvideClickHouseClient,
		ProvideJobQueue,

		// Ports
		ProvideStore,
		ProvideLocker,
		ProvideNotifier,
		ProvideJournal,
		ProvideFeed,
		ProvidePipeline,
		ProvideMarketData,
		ProvideGateway,
		ProvideCalendar,

		// Price inputs
		ProvideQuoteCollector,
		ProvideKafkaQuotesHandler,
		ProvideKafkaConsumer,

		// Use cases and delivery
		ProvideEngine,
		ProvideScheduler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
