package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/repository"
	"RegimeDesk/internal/handler/api"
	mid "RegimeDesk/internal/middleware"
	internalrepo "RegimeDesk/internal/repository"
	"RegimeDesk/internal/service/finnhub"
	"RegimeDesk/internal/service/gateway"
	"RegimeDesk/internal/service/lock"
	"RegimeDesk/internal/service/marketdata"
	"RegimeDesk/internal/service/notify"
	"RegimeDesk/internal/service/ratelimit"
	"RegimeDesk/internal/services/planner"
	"RegimeDesk/internal/services/regime"
	"RegimeDesk/internal/services/risk"
	"RegimeDesk/internal/usecase"
	"RegimeDesk/pkg/cache"
	pkgch "RegimeDesk/pkg/clickhouse"
	"RegimeDesk/pkg/config"
	xhttp "RegimeDesk/pkg/http"
	pkgkafka "RegimeDesk/pkg/kafka"
	"RegimeDesk/pkg/logger"
	"RegimeDesk/pkg/metrics"
	"RegimeDesk/pkg/queue"
	"RegimeDesk/pkg/scheduler"
	"RegimeDesk/pkg/server"
)

// ProvideRegistry creates the Prometheus registry every component records into.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates the engine metrics recorder.
func ProvideMetrics(cfg *config.Config, reg *prometheus.Registry) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}
	}
	return metrics.New(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      k.Brokers,
		RequiredAcks: k.RequiredAcks,
		Compression:  k.Compression,
		MaxAttempts:  k.Producer.MaxAttempts,
		WriteTimeout: k.Producer.WriteTimeout,
		ReadTimeout:  k.Producer.ReadTimeout,
		BatchSize:    k.Producer.BatchSize,
		BatchBytes:   k.Producer.BatchBytes,
		BatchTimeout: k.Producer.Linger,
		Async:        k.Producer.Async,
		HashByKey:    true,
	}, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With collection on and Kafka
// available, repeated entries are aggregated and shipped to the log topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logger.Collect.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logger.Collect.Interval,
			CountThreshold: cfg.Logger.Collect.Threshold,
			Topic:          cfg.Logger.Collect.Topic,
			Publisher:      producer,
		})
	}
	return l, l.RemoveCollector, nil
}

// ProvideRedisCache connects to Redis when the store lives there; nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if cfg.Store.Type != "redis" {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache layers an in-process cache over Redis, or stays in memory.
func ProvideCache(rc *cache.RedisCache) (cache.Service, func()) {
	if rc == nil {
		mc := cache.NewMemoryCache()
		return mc, func() { _ = mc.Close() }
	}
	lc := cache.NewLayeredCache(rc)
	return lc, func() { _ = lc.Close() }
}

// ProvideStore picks the state store.
func ProvideStore(cfg *config.Config, rc *cache.RedisCache) (repository.Store, func(), error) {
	switch cfg.Store.Type {
	case "redis":
		if rc == nil {
			return nil, nil, fmt.Errorf("store redis: no redis connection")
		}
		s := internalrepo.NewRedisStore(rc.Client(), cfg.Redis.Prefix, cfg.Account.ID)
		return s, func() {}, nil
	default:
		s := internalrepo.NewMemoryStore(cfg.Account.ID)
		return s, func() { _ = s.Close() }, nil
	}
}

func ProvideLocker(cfg *config.Config, c cache.Service, l *logger.Logger) repository.Locker {
	return lock.NewCacheLocker(c, cfg.Lock.TTL, cfg.Lock.Wait, cfg.Lock.Poll, l)
}

// ProvideNotifier fans out to every configured backend.
func ProvideNotifier(cfg *config.Config, producer *pkgkafka.Producer, l *logger.Logger) repository.Notifier {
	var out notify.Multi
	for _, b := range cfg.Notifications.Backends {
		switch b {
		case "log":
			out = append(out, notify.NewLogNotifier(l))
		case "kafka":
			if producer != nil {
				out = append(out, notify.NewKafkaNotifier(producer, cfg.Kafka.NotificationsTopic, cfg.Account.ID, cfg.Notifications.Timeout, l))
			}
		}
	}
	if len(out) == 0 {
		out = append(out, notify.NewLogNotifier(l))
	}
	return out
}

// ProvideClickHouseClient connects and creates the journal tables, or
// returns nil when the journal is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.JournalSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideJobQueue creates the Redis job queue that moves journal writes off
// the cycle path. Nil unless the journal is routed through it.
func ProvideJobQueue(cfg *config.Config, rc *cache.RedisCache, ch *pkgch.Client, l *logger.Logger) *queue.RedisQueue {
	if !cfg.ClickHouse.ViaQueue || rc == nil || ch == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, queue.Config{
		Workers:       cfg.Queue.Workers,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    cfg.Queue.RetryDelay,
		MaxRetryDelay: cfg.Queue.MaxRetryDelay,
		JobTimeout:    cfg.Queue.JobTimeout,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJob(internalrepo.NewCycleJournalJob(internalrepo.NewClickHouseJournal(ch.DB(), cfg.ClickHouse.Database)))
	return q
}

// ProvideJournal returns nil when no journal is configured; the engine skips it.
func ProvideJournal(cfg *config.Config, ch *pkgch.Client, q *queue.RedisQueue) repository.Journal {
	switch {
	case q != nil:
		return internalrepo.NewQueueJournal(q)
	case ch != nil:
		return internalrepo.NewClickHouseJournal(ch.DB(), cfg.ClickHouse.Database)
	default:
		return nil
	}
}

func ProvideFeed() *marketdata.Feed { return marketdata.NewFeed() }

// ProvidePipeline throttles streamed prices on their way into the feed.
func ProvidePipeline(cfg *config.Config, feed *marketdata.Feed, m repository.Metrics) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(feed, m,
		mid.WithMaxRPS(cfg.MarketData.Finnhub.MaxRPS),
		mid.WithSymbols(cfg.Account.Symbol),
	)
}

// ProvideMarketData builds the snapshot source. Live mode overlays streamed
// prices on the HTTP source (or the mock when no URL is set).
func ProvideMarketData(cfg *config.Config, feed *marketdata.Feed, c cache.Service, l *logger.Logger) repository.MarketData {
	md := cfg.MarketData
	var src repository.MarketData
	switch {
	case md.Mode == "mock" || (md.Mode == "live" && md.URL == ""):
		src = marketdata.NewMockSource(cfg.Account.Symbol, md.Mock.Price, md.Mock.VIX, md.Mock.IV)
	default:
		src = marketdata.NewHTTPSource(md.URL, cfg.Account.Symbol, "", md.Timeout)
	}
	if md.Mode == "live" {
		src = marketdata.NewLiveSource(src, feed, cfg.Account.Symbol, md.MaxSnapshotAge)
	}
	if md.ChainCacheTTL > 0 {
		src = marketdata.NewCachedChains(src, c, md.ChainCacheTTL, l)
	}
	return src
}

// ProvideQuoteCollector streams Finnhub trades into the feed; nil unless enabled.
func ProvideQuoteCollector(cfg *config.Config, pipe *mid.RealtimePipeline, m repository.Metrics, l *logger.Logger) *usecase.QuoteCollector {
	fh := cfg.MarketData.Finnhub
	if !fh.Enabled {
		return nil
	}
	stream := finnhub.New(finnhub.Config{
		APIKey:         fh.APIKey,
		URL:            fh.WebSocketURL,
		Symbols:        []string{cfg.Account.Symbol},
		ReconnectDelay: fh.ReconnectDelay,
		PingInterval:   fh.PingInterval,
	}, l)
	return usecase.NewQuoteCollector(stream, pipe, m, l)
}

// ProvideKafkaQuotesHandler reads prices from a Kafka topic; nil unless configured.
func ProvideKafkaQuotesHandler(cfg *config.Config, pipe *mid.RealtimePipeline, m repository.Metrics) *usecase.KafkaQuotesHandler {
	if cfg.MarketData.QuoteTopic == "" {
		return nil
	}
	return usecase.NewKafkaQuotesHandler(cfg.MarketData.QuoteTopic, pipe, m)
}

// ProvideKafkaConsumer creates the quotes consumer when a quote topic is set.
// Quotes older than the snapshot age are skipped rather than replayed.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, m repository.Metrics, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.MarketData.QuoteTopic == "" {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		GroupID:    cc.GroupID,
		Workers:    cc.Workers,
		BufferSize: cc.BufferSize,
		RetryMax:   cc.RetryMax,
		BackoffMin: cc.BackoffMin,
		BackoffMax: cc.BackoffMax,
		DLQTopic:   cc.DLQTopic,
		MinBytes:   cc.MinBytes,
		MaxBytes:   cc.MaxBytes,
	}, l, reg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetHooks(pkgkafka.Hooks{
		Before: pkgkafka.StaleAfter(cfg.MarketData.MaxSnapshotAge, time.Now),
		OnDrop: func(_ context.Context, msg kafkago.Message, _ error) {
			m.RecordError("consumer_" + msg.Topic)
		},
	})
	return consumer, nil
}

// ProvideGateway picks the execution gateway.
func ProvideGateway(cfg *config.Config, l *logger.Logger) repository.ExecutionGateway {
	ex := cfg.Execution
	if ex.Gateway == "http" {
		return gateway.NewHTTPGateway(ex.URL, ex.APIKey, ex.Timeout, gateway.BreakerConfig{
			MaxRequests:         ex.Breaker.MaxRequests,
			Interval:            ex.Breaker.Interval,
			Timeout:             ex.Breaker.Timeout,
			ConsecutiveFailures: ex.Breaker.ConsecutiveFailures,
		}, l)
	}
	return gateway.NewPaperGateway(decimal.NewFromFloat(ex.PaperEquity))
}

func ProvideCalendar(cfg *config.Config) (*planner.Calendar, error) {
	return planner.NewCalendar(cfg.Calendar.Holidays)
}

// ProvideEngine assembles the services and ports into the engine.
func ProvideEngine(
	cfg *config.Config,
	market repository.MarketData,
	gw repository.ExecutionGateway,
	store repository.Store,
	locker repository.Locker,
	notifier repository.Notifier,
	journal repository.Journal,
	m repository.Metrics,
	cal *planner.Calendar,
	l *logger.Logger,
) *usecase.Engine {
	ev := risk.NewEvaluator(cfg.Risk)
	cl := regime.NewClassifier(cfg.Planner.RequiredCleanWeeks)
	pl := planner.NewPlanner(cfg.Planner, cfg.Account.Symbol, ev, cal)
	return usecase.NewEngine(usecase.NewEngineConfig(cfg), market, gw, store, locker, notifier, journal, m, ev, cl, pl, cal, l)
}

// ProvideScheduler fires the weekly cycle and the hourly expiry sweep; nil
// when scheduling is off and cycles are triggered over the API.
func ProvideScheduler(cfg *config.Config, engine *usecase.Engine, l *logger.Logger) (*scheduler.Runner, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	r := scheduler.New(l, context.Background(), loc, cfg.Lock.Wait+cfg.Lock.TTL)
	if _, err := r.Add("cycle", cfg.Scheduler.CycleSpec, func(ctx context.Context) error {
		res, err := engine.RunCycle(ctx, "")
		if err != nil {
			return err
		}
		l.Info("scheduled cycle done",
			logger.String("cycle_id", res.CycleID),
			logger.String("regime", string(res.Regime.Type)),
			logger.Int("recommendations", len(res.Recommendations)))
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := r.Add("expire", cfg.Scheduler.SweepSpec, func(ctx context.Context) error {
		n, err := engine.ExpireStale(ctx)
		if n > 0 {
			l.Info("expired stale recommendations", logger.Int("count", n))
		}
		return err
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// ProvideHTTPServer exposes the engine API with a write limiter.
func ProvideHTTPServer(cfg *config.Config, engine *usecase.Engine, reg *prometheus.Registry, l *logger.Logger) *xhttp.Server {
	limiter := ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec).Middleware()
	h := api.NewEngineEchoHandler(l, engine, limiter)
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithAllowOrigins(cfg.Server.AllowOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithRegistry(reg, cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	srv *xhttp.Server,
	sched *scheduler.Runner,
	collector *usecase.QuoteCollector,
	consumer *pkgkafka.Consumer,
	quotes *usecase.KafkaQuotesHandler,
	jobs *queue.RedisQueue,
) *server.App {
	return server.New(cfg, l, srv, sched, collector, consumer, quotes, jobs)
}
