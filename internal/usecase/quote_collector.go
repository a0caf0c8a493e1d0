package usecase

import (
	"context"
	"time"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	mid "RegimeDesk/internal/middleware"
	"RegimeDesk/pkg/logger"
)

// QuoteCollector pumps the streaming last price through the realtime
// pipeline into the live price feed. It reconnects until ctx ends.
type QuoteCollector struct {
	stream  drepo.PriceStream
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	log     *logger.Logger
	backoff time.Duration
}

func NewQuoteCollector(stream drepo.PriceStream, pipe *mid.RealtimePipeline, metrics drepo.Metrics, log *logger.Logger) *QuoteCollector {
	return &QuoteCollector{stream: stream, pipe: pipe, metrics: metrics, log: log, backoff: 5 * time.Second}
}

func (c *QuoteCollector) IsConnected() bool { return c.stream.IsConnected() }

// Start connects and subscribes synchronously, then consumes in the background.
func (c *QuoteCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	go c.run(ctx)
	return nil
}

func (c *QuoteCollector) Stop() error {
	c.pipe.Stop()
	return c.stream.Close()
}

func (c *QuoteCollector) run(ctx context.Context) {
	for {
		ticks, errs := c.stream.Read(ctx)
		err := c.consume(ctx, ticks, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.log.Warn("price stream interrupted", logger.Error(err))
		for {
			rerr := c.stream.Reconnect(ctx)
			if rerr == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("price stream reconnect", logger.Error(rerr))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
		}
	}
}

// consume returns when the stream reports an error or closes.
func (c *QuoteCollector) consume(ctx context.Context, ticks <-chan *models.PriceTick, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return err
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := c.pipe.Process(ctx, t); err != nil {
				c.log.Debug("tick not applied", logger.String("symbol", t.Symbol), logger.Error(err))
			}
		}
	}
}
