package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"RegimeDesk/pkg/logger"
)

// promoteScript moves a due retry back onto the queue only if this caller
// removed it, so two processes never both requeue it.
var promoteScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// RedisQueue is an at-least-once job queue on Redis lists. A worker moves a
// message to a processing list while it runs and removes it once handled, so
// messages in flight at a crash are requeued on the next Start.
type RedisQueue struct {
	log    *logger.Logger
	cfg    Config
	client *redis.Client
	prefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*RedisQueue)

func WithKeyPrefix(prefix string) Option {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedisQueue(log *logger.Logger, cfg Config, client *redis.Client, opts ...Option) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = 32 * cfg.RetryDelay
	}
	r := &RedisQueue{
		log:    log,
		cfg:    cfg,
		client: client,
		prefix: "regimedesk:queue",
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob must be called before Start. A second job for the same type is ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("job already registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
}

func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	if err := r.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("queue redis ping: %w", err)
	}
	if n, err := r.requeueInFlight(pctx); err != nil {
		return err
	} else if n > 0 {
		r.log.Warn("requeued messages left in flight", logger.Int("count", n))
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.wg.Add(1)
	go r.retryLoop(ctx)

	r.log.Info("job queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.Int("jobs", len(r.jobs)),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs or ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop job queue: %w", ctx.Err())
	}
}

// Publish enqueues payload as JSON for the job registered under msgType.
func (r *RedisQueue) Publish(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("no job registered for %q", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msgType, err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		data, err := r.client.BLMove(ctx, r.key("messages"), r.key("processing"), "RIGHT", "LEFT", time.Second).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			r.log.Error("queue fetch", logger.Int("worker", id), logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r.process(ctx, data)
	}
}

func (r *RedisQueue) process(ctx context.Context, data string) {
	// the ack must land even while shutting down
	defer func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.client.LRem(actx, r.key("processing"), 1, data).Err(); err != nil {
			r.log.Error("queue ack", logger.Error(err))
		}
	}()

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		r.log.Error("queue message undecodable", logger.Error(err))
		r.push(ctx, r.key("dlq"), data)
		return
	}
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.push(ctx, r.key("dlq"), data)
		return
	}

	jctx := ctx
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}
	start := time.Now()
	err := job.Handle(jctx, msg.Payload)
	if err == nil {
		r.log.Debug("job done",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Duration("took", time.Since(start)))
		return
	}
	r.fail(ctx, msg, job, err)
}

func (r *RedisQueue) fail(ctx context.Context, msg Message, job Job, err error) {
	msg.Attempts++
	msg.LastError = err.Error()
	data, merr := json.Marshal(msg)
	if merr != nil {
		r.log.Error("marshal failed message", logger.Error(merr))
		return
	}

	if msg.Attempts > r.cfg.RetryLimit {
		r.log.Error("job gave up",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err))
		r.push(ctx, r.key("dlq"), string(data))
		return
	}

	delay := retryDelay(r.cfg.RetryDelay, r.cfg.MaxRetryDelay, msg.Attempts)
	r.log.Warn("job failed, retrying",
		logger.String("job", job.Name()),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.Duration("in", delay),
		logger.Error(err))
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	z := redis.Z{Score: float64(time.Now().Add(delay).Unix()), Member: data}
	if zerr := r.client.ZAdd(sctx, r.key("retry"), z).Err(); zerr != nil {
		r.log.Error("schedule retry", logger.String("id", msg.ID), logger.Error(zerr))
	}
}

func (r *RedisQueue) retryLoop(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.promoteDue(ctx)
		}
	}
}

func (r *RedisQueue) promoteDue(ctx context.Context) {
	due, err := r.client.ZRangeByScore(ctx, r.key("retry"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().Unix(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("read due retries", logger.Error(err))
		}
		return
	}
	keys := []string{r.key("retry"), r.key("messages")}
	for _, m := range due {
		if err := promoteScript.Run(ctx, r.client, keys, m).Err(); err != nil {
			if ctx.Err() == nil {
				r.log.Error("promote retry", logger.Error(err))
			}
			return
		}
	}
}

func (r *RedisQueue) requeueInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.key("processing"), r.key("messages"), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("requeue in-flight: %w", err)
		}
		n++
	}
}

func (r *RedisQueue) push(ctx context.Context, key, data string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(pctx, key, data).Err(); err != nil {
		r.log.Error("queue push", logger.String("key", key), logger.Error(err))
	}
}

func (r *RedisQueue) key(name string) string {
	return r.prefix + ":" + name
}

var _ Publisher = (*RedisQueue)(nil)
