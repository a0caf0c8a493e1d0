package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"RegimeDesk/pkg/logger"
)

// Runner fires jobs on six-field cron specs (seconds first) in one timezone.
type Runner struct {
	cron    *cron.Cron
	log     *logger.Logger
	baseCtx context.Context
	timeout time.Duration
}

// New builds a runner in loc. A zero timeout lets jobs run until baseCtx ends.
func New(log *logger.Logger, baseCtx context.Context, loc *time.Location, timeout time.Duration) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:     log,
		baseCtx: baseCtx,
		timeout: timeout,
	}
}

// Add registers job under name. Errors from the job are logged, never retried.
func (r *Runner) Add(name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() { r.run(name, job) })
	if err != nil {
		return 0, fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return id, nil
}

func (r *Runner) run(name string, job func(context.Context) error) {
	ctx := r.baseCtx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		r.log.Error("scheduled job failed", logger.String("job", name), logger.Error(err), logger.Duration("took", time.Since(start)))
		return
	}
	r.log.Debug("scheduled job done", logger.String("job", name), logger.Duration("took", time.Since(start)))
}

// Next reports when the entry fires next; zero if it is unknown.
func (r *Runner) Next(id cron.EntryID) time.Time {
	return r.cron.Entry(id).Next
}

func (r *Runner) Start() {
	r.log.Info("scheduler started", logger.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop waits for running jobs to return.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("scheduler stopped")
}
