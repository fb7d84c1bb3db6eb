// Package pipeline runs the scheduled housekeeping jobs: sweeping residual
// custody of settled markets and archiving their settlement reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// Job is one scheduled unit of work. Run returns how many markets it acted on.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Schedule binds a Job to a standard 5-field cron expression.
type Schedule struct {
	Spec string
	Job  Job
}

// Orchestrator runs jobs on their cron schedules. A job run is skipped when
// the previous run of the same job is still going, or when another replica
// holds the job lock.
type Orchestrator struct {
	schedules  []Schedule
	locks      domain.LockManager
	lockTTL    time.Duration
	runOnStart bool
	logger     *slog.Logger

	mu     sync.Mutex
	runCtx context.Context
}

// NewOrchestrator returns an Orchestrator. locks may be nil on a single node.
func NewOrchestrator(schedules []Schedule, locks domain.LockManager, lockTTL time.Duration, runOnStart bool, logger *slog.Logger) *Orchestrator {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Orchestrator{
		schedules:  schedules,
		locks:      locks,
		lockTTL:    lockTTL,
		runOnStart: runOnStart,
		logger:     logger.With("component", "scheduler"),
	}
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// in-flight jobs to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	cl := cronLogger{o.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, s := range o.schedules {
		job := s.Job
		if _, err := c.AddFunc(s.Spec, func() { o.RunJob(ctx, job) }); err != nil {
			return fmt.Errorf("pipeline: schedule %s %q: %w", job.Name(), s.Spec, err)
		}
		o.logger.Info("job scheduled", slog.String("job", job.Name()), slog.String("cron", s.Spec))
	}

	if o.runOnStart {
		for _, s := range o.schedules {
			o.RunJob(ctx, s.Job)
		}
	}

	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	o.logger.Info("scheduler stopped")
	return nil
}

// Trigger starts an out-of-schedule run of the named job in the background.
func (o *Orchestrator) Trigger(name string) error {
	o.mu.Lock()
	ctx := o.runCtx
	o.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return fmt.Errorf("pipeline: scheduler: %w", domain.ErrUnavailable)
	}
	for _, s := range o.schedules {
		if s.Job.Name() == name {
			go o.RunJob(ctx, s.Job)
			return nil
		}
	}
	return fmt.Errorf("pipeline: job %q: %w", name, domain.ErrNotFound)
}

// Jobs lists the scheduled job names.
func (o *Orchestrator) Jobs() []string {
	names := make([]string, 0, len(o.schedules))
	for _, s := range o.schedules {
		names = append(names, s.Job.Name())
	}
	return names
}

// RunJob runs job once under its distributed lock.
func (o *Orchestrator) RunJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, "job:"+job.Name(), o.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				o.logger.DebugContext(ctx, "job held by another replica", slog.String("job", job.Name()))
				return
			}
			o.logger.WarnContext(ctx, "job lock failed", slog.String("job", job.Name()), slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "job failed",
			slog.String("job", job.Name()),
			slog.Int("markets", n),
			slog.String("error", err.Error()),
		)
		return
	}
	o.logger.InfoContext(ctx, "job complete",
		slog.String("job", job.Name()),
		slog.Int("markets", n),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
