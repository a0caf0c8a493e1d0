package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RegimeDesk/internal/usecase"
	"RegimeDesk/pkg/config"
	xhttp "RegimeDesk/pkg/http"
	pkgkafka "RegimeDesk/pkg/kafka"
	"RegimeDesk/pkg/logger"
	"RegimeDesk/pkg/queue"
	"RegimeDesk/pkg/scheduler"
)

// App owns the process lifecycle: background inputs first, the API last,
// and the reverse on shutdown.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *xhttp.Server
	scheduler  *scheduler.Runner
	collector  *usecase.QuoteCollector
	consumer   *pkgkafka.Consumer
	quotes     pkgkafka.MessageHandler
	jobs       *queue.RedisQueue
}

// New creates the application. collector, consumer, quotes, jobs and sched
// are optional and may be nil.
func New(
	cfg *config.Config,
	log *logger.Logger,
	httpServer *xhttp.Server,
	sched *scheduler.Runner,
	collector *usecase.QuoteCollector,
	consumer *pkgkafka.Consumer,
	quotes *usecase.KafkaQuotesHandler,
	jobs *queue.RedisQueue,
) *App {
	a := &App{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		scheduler:  sched,
		collector:  collector,
		consumer:   consumer,
		jobs:       jobs,
	}
	if quotes != nil {
		a.quotes = quotes
	}
	return a
}

// Run starts every component and blocks until SIGINT/SIGTERM or until the
// HTTP listener dies, then shuts down. A dead listener is returned as error.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.startInputs(ctx)
	if a.scheduler != nil {
		a.scheduler.Start()
	}
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-a.httpServer.Err():
		a.log.Error("http listener failed, shutting down", logger.Error(runErr))
	}
	stop()
	a.shutdown()
	return runErr
}

// startInputs starts the optional feeds. None of them is fatal: the live
// price source falls back to its base snapshot and the journal queue only
// delays writes.
func (a *App) startInputs(ctx context.Context) {
	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("price stream start failed", logger.Error(err))
		} else {
			a.log.Info("price stream started", logger.String("symbol", a.cfg.Account.Symbol))
		}
	}
	if a.consumer != nil && a.quotes != nil {
		a.consumer.RegisterHandler(a.quotes)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start failed", logger.Error(err))
		}
	}
	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			a.log.Error("job queue start failed", logger.Error(err))
		}
	}
}

// shutdown stops the API first so no new writes arrive, then the inputs.
func (a *App) shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown failed", logger.Error(err))
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.log.Warn("price stream stop failed", logger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop failed", logger.Error(err))
		}
	}

	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			a.log.Warn("job queue stop failed", logger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
}
