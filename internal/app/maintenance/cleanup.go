package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/pkg/logger"
)

const (
	JobCacheSweep = "cache_sweep"
	JobQueuePrune = "queue_prune"
	JobQueueFlush = "queue_flush"

	defaultCacheMaxAge    = 24 * time.Hour
	defaultCacheSweepSpec = "@hourly"
	defaultQueuePruneSpec = "@every 15m"
	defaultQueueFlushSpec = "@every 1m"
	defaultJobRunTimeout  = 2 * time.Minute
)

// CacheSweeper drops cache entries older than a given age.
type CacheSweeper interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// QueueKeeper is the subset of the mutation queue touched by maintenance.
type QueueKeeper interface {
	Prune(ctx context.Context) (int, error)
	Flush(ctx context.Context) (queue.FlushReport, error)
}

// Cleaner coordinates background maintenance: sweeping stale cache entries, pruning
// expired queue items and retrying deliveries whose timers were lost on restart.
type Cleaner struct {
	cache   CacheSweeper
	queue   QueueKeeper
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger
	maxAge  time.Duration
	timeout time.Duration

	cacheSchedule string
	pruneSchedule string
	flushSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to time job runs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithCacheMaxAge sets the age beyond which cache entries are swept.
func WithCacheMaxAge(age time.Duration) Option {
	return func(cleaner *Cleaner) {
		if age > 0 {
			cleaner.maxAge = age
		}
	}
}

// WithCacheSweepSchedule overrides the cron schedule for the cache sweep.
func WithCacheSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithQueuePruneSchedule overrides the cron schedule for queue pruning.
func WithQueuePruneSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.pruneSchedule = spec
		}
	}
}

// WithQueueFlushSchedule overrides the cron schedule for the periodic flush.
func WithQueueFlushSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.flushSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips its jobs.
func NewCleaner(cache CacheSweeper, q QueueKeeper, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		cache:         cache,
		queue:         q,
		now:           time.Now,
		maxAge:        defaultCacheMaxAge,
		timeout:       defaultJobRunTimeout,
		cacheSchedule: defaultCacheSweepSpec,
		pruneSchedule: defaultQueuePruneSpec,
		flushSchedule: defaultQueueFlushSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) (string, error)
}

func (c *Cleaner) jobs() []job {
	var jobs []job
	if c.cache != nil {
		jobs = append(jobs, job{name: JobCacheSweep, spec: c.cacheSchedule, run: c.sweepCache})
	}
	if c.queue != nil {
		jobs = append(jobs,
			job{name: JobQueuePrune, spec: c.pruneSchedule, run: c.pruneQueue},
			job{name: JobQueueFlush, spec: c.flushSchedule, run: c.flushQueue},
		)
	}
	return jobs
}

// Start registers the jobs with the cron scheduler and launches it when at least one
// job is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		j := j
		if _, err := c.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := c.execute(ctx, j); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		if err := c.execute(ctx, j); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errs
}

func (c *Cleaner) execute(ctx context.Context, j job) error {
	start := c.now()
	message, err := j.run(ctx)
	duration := c.now().Sub(start)

	if err != nil {
		monitoring.RecordMaintenanceRun(j.name, "failure", err.Error(), duration)
		return err
	}
	monitoring.RecordMaintenanceRun(j.name, "success", message, duration)
	c.log.Debug("maintenance job completed", zap.String("job", j.name), zap.String("result", message))
	return nil
}

func (c *Cleaner) sweepCache(ctx context.Context) (string, error) {
	removed, err := c.cache.PurgeOlderThan(ctx, c.maxAge)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("removed %d cache entries", removed), nil
}

func (c *Cleaner) pruneQueue(ctx context.Context) (string, error) {
	removed, err := c.queue.Prune(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pruned %d expired items", removed), nil
}

func (c *Cleaner) flushQueue(ctx context.Context) (string, error) {
	report, err := c.queue.Flush(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case report.Skipped:
		return "flush already running", nil
	case report.Offline && report.Attempted == 0:
		return "offline", nil
	}
	return fmt.Sprintf("delivered %d of %d", report.Delivered, report.Attempted), nil
}
