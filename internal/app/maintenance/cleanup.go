package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/inkroom/pkg/logger"
)

const (
	defaultReapGrace     = 10 * time.Minute
	defaultReapSpec      = "@every 1m"
	defaultPruneSpec     = "@hourly"
	defaultPruneDeadline = 5 * time.Minute
)

// SessionReaper drops whiteboard sessions that have stayed empty for at least grace.
type SessionReaper interface {
	ReapIdle(grace time.Duration) []string
}

// UploadPruner removes shared files past their retention window.
type UploadPruner interface {
	Prune(ctx context.Context) (int, error)
}

// CounterPurger drops rate limiting counters whose window has closed.
type CounterPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: reaping idle sessions and pruning old uploads.
type Cleaner struct {
	reaper SessionReaper
	pruner UploadPruner
	purger CounterPurger
	cron   *cron.Cron
	log    *zap.Logger
	grace  time.Duration

	reapSchedule  string
	pruneSchedule string
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

// WithReapGrace sets how long a session must stay empty before it is reaped.
func WithReapGrace(grace time.Duration) Option {
	return func(cleaner *Cleaner) {
		if grace > 0 {
			cleaner.grace = grace
		}
	}
}

// WithReapSchedule overrides the cron specification for the session reaper.
func WithReapSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.reapSchedule = spec
		}
	}
}

// WithPruneSchedule overrides the cron specification for upload pruning.
func WithPruneSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.pruneSchedule = spec
		}
	}
}

// WithCounterPurger purges expired rate limiting counters on the prune schedule.
func WithCounterPurger(p CounterPurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.purger = p
	}
}

// NewCleaner constructs a Cleaner. A nil dependency disables the corresponding job.
func NewCleaner(reaper SessionReaper, pruner UploadPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		reaper:        reaper,
		pruner:        pruner,
		grace:         defaultReapGrace,
		reapSchedule:  defaultReapSpec,
		pruneSchedule: defaultPruneSpec,
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

// Start registers the enabled jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.reaper == nil && c.pruner == nil && c.purger == nil {
		return nil
	}

	if c.reaper != nil {
		if _, err := c.cron.AddFunc(c.reapSchedule, func() {
			c.reaper.ReapIdle(c.grace)
		}); err != nil {
			return fmt.Errorf("maintenance: reap schedule %q: %w", c.reapSchedule, err)
		}
	}

	if c.pruner != nil || c.purger != nil {
		if _, err := c.cron.AddFunc(c.pruneSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), defaultPruneDeadline)
			defer cancel()
			if err := c.prune(ctx); err != nil {
				c.log.Warn("pruning failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: prune schedule %q: %w", c.pruneSchedule, err)
		}
	}

	c.cron.Start()
	c.log.Info("maintenance scheduler started",
		zap.String("reap_schedule", c.reapSchedule),
		zap.String("prune_schedule", c.pruneSchedule),
	)
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs finish.
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

	if c.reaper != nil {
		c.reaper.ReapIdle(c.grace)
	}
	return c.prune(ctx)
}

func (c *Cleaner) prune(ctx context.Context) error {
	var errs error

	if c.pruner != nil {
		if _, err := c.pruner.Prune(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune uploads: %w", err))
		}
	}

	if c.purger != nil {
		if _, err := c.purger.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge rate counters: %w", err))
		}
	}

	return errs
}
