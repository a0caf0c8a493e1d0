package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"RegimeDesk/pkg/logger"
)

// MessageHandler handles every message of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads one or more topics in a consumer group. Messages of a
// partition are handled in order on a fixed lane; offsets are committed only
// after a message is handled, skipped, or sent to the DLQ.
type Consumer struct {
	cfg     ConsumerConfig
	log     *logger.Logger
	hooks   Hooks
	metrics *consumerMetrics

	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	lanes    []chan kafka.Message
	dlq      *kafka.Writer

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// NewConsumer validates cfg. A nil reg disables metrics.
func NewConsumer(cfg ConsumerConfig, log *logger.Logger, reg prometheus.Registerer) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	cfg, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      log,
		metrics:  newConsumerMetrics(reg),
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		lanes:    make([]chan kafka.Message, cfg.Workers),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := range c.lanes {
		c.lanes[i] = make(chan kafka.Message, cfg.BufferSize)
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// RegisterHandler must be called before Start.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("kafka handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// SetHooks must be called before Start.
func (c *Consumer) SetHooks(h Hooks) {
	c.hooks = h
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	if c.started || c.ctx.Err() != nil {
		return errors.New("kafka consumer: already started or stopped")
	}
	c.started = true

	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
	}
	for _, lane := range c.lanes {
		c.wg.Add(1)
		go c.work(lane)
	}
	for topic, r := range c.readers {
		c.wg.Add(1)
		go c.fetch(topic, r)
	}

	c.log.Info("kafka consumer started",
		logger.String("group", c.cfg.GroupID),
		logger.Int("topics", len(c.readers)),
		logger.Int("lanes", len(c.lanes)))
	return nil
}

// Stop cancels fetching and handling and waits for the goroutines or ctx.
// Messages that were fetched but not handled are redelivered to the group.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka reader close", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka dlq close", logger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) fetch(topic string, r *kafka.Reader) {
	defer c.wg.Done()
	failures := 0
	for {
		m, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++
			c.log.Warn("kafka fetch", logger.String("topic", topic), logger.Int("failures", failures), logger.Error(err))
			if !c.sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}
		failures = 0

		lane := c.lanes[laneFor(m.Topic, m.Partition, len(c.lanes))]
		select {
		case lane <- m:
			c.metrics.depth(topic, len(lane), cap(lane))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(lane <-chan kafka.Message) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-lane:
			c.handle(m)
		}
	}
}

// handle runs the handler with retries. It commits unless the consumer is
// stopping mid-retry, in which case the message is left for redelivery.
func (c *Consumer) handle(m kafka.Message) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("kafka handler panic", logger.String("topic", m.Topic), logger.Any("panic", r))
		}
		c.metrics.handled(m.Topic, time.Since(start))
	}()

	h, ok := c.handlers[m.Topic]
	if !ok {
		return
	}

	err := c.hooks.before(c.ctx, m)
	attempts := 0
	if err == nil {
		for {
			attempts++
			err = h.Handle(c.ctx, m.Value)
			c.hooks.after(c.ctx, m, err)
			if err == nil || errors.Is(err, ErrSkip) || attempts > c.cfg.RetryMax {
				break
			}
			if !c.sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
				return
			}
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrSkip):
		c.hooks.drop(c.ctx, m, err)
		c.log.Debug("kafka message skipped", logger.String("topic", m.Topic), logger.Error(err))
	default:
		c.hooks.drop(c.ctx, m, err)
		c.log.Error("kafka message failed",
			logger.String("topic", m.Topic),
			logger.Int("partition", m.Partition),
			logger.Int("attempts", attempts),
			logger.Error(err))
		if c.dlq == nil {
			// without a DLQ the offset stays put and the group redelivers it
			return
		}
		if derr := c.toDLQ(m, err); derr != nil {
			c.log.Error("kafka dlq write", logger.String("dlq", c.cfg.DLQTopic), logger.Error(derr))
			return
		}
	}
	c.commit(m)
}

func (c *Consumer) toDLQ(m kafka.Message, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(m.Topic)},
			{Key: "source_partition", Value: []byte(strconv.Itoa(m.Partition))},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(m.Offset, 10))},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
}

func (c *Consumer) commit(m kafka.Message) {
	r := c.readers[m.Topic]
	if r == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, m)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka commit", logger.String("topic", m.Topic), logger.Int("partition", m.Partition), logger.Error(err))
}

// sleep waits d and reports false if the consumer stopped meanwhile.
func (c *Consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func laneFor(topic string, partition, lanes int) int {
	if lanes <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(lanes))
}

// backoffWithJitter doubles lo per attempt up to hi and subtracts up to half
// of it at random.
func backoffWithJitter(lo, hi time.Duration, attempt int) time.Duration {
	if lo <= 0 {
		lo = 50 * time.Millisecond
	}
	if hi < lo {
		hi = lo
	}
	d := hi
	if attempt <= 30 {
		if exp := lo << uint(attempt-1); exp > 0 && exp < hi {
			d = exp
		}
	}
	return d - time.Duration(rand.Int63n(int64(d)/2+1))
}

type consumerMetrics struct {
	depthGauge *prometheus.GaugeVec
	fullness   *prometheus.GaugeVec
	latency    *prometheus.HistogramVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		return nil
	}
	return &consumerMetrics{
		depthGauge: registerOrReuse(reg, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "regimedesk_kafka_consumer_lane_depth", Help: "Messages waiting in a consumer lane after the last enqueue"},
			[]string{"topic"},
		)),
		fullness: registerOrReuse(reg, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "regimedesk_kafka_consumer_lane_fullness", Help: "Lane utilization ratio (len/cap)"},
			[]string{"topic"},
		)),
		latency: registerOrReuse(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "regimedesk_kafka_consumer_handle_seconds", Help: "Handling time per message including retries"},
			[]string{"topic"},
		)),
	}
}

func (m *consumerMetrics) depth(topic string, n, capacity int) {
	if m == nil {
		return
	}
	m.depthGauge.WithLabelValues(topic).Set(float64(n))
	m.fullness.WithLabelValues(topic).Set(float64(n) / float64(capacity))
}

func (m *consumerMetrics) handled(topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}

// registerOrReuse lets several consumers or producers share one registry.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
