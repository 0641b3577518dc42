package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/netcomp-backend/pkg/locks"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
)

const (
	defaultInterval = 15 * time.Minute
	lockName        = "cron-worker"
)

type locker interface {
	Acquire(ctx context.Context, parts ...string) (func(context.Context) error, error)
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   locker
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	Env      string
	Now      func() time.Time
}

// Service wakes up every Interval, takes the per-environment cron lock and
// runs whichever jobs are due. A replica that loses the lock skips the tick.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   locker
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	env      string
	now      func() time.Time
}

// cycleReport summarizes one tick.
type cycleReport struct {
	skipped bool
	ran     int
	failed  int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Locker == nil {
		return nil, errors.New("locker required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		interval: params.Interval,
		env:      params.Env,
		now:      params.Now,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.env == "" {
		s.env = "local"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run ticks until ctx is canceled. The first cycle starts immediately.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	report, err := s.runCycle(ctx)
	if err != nil {
		s.logg.Error(ctx, "cron cycle failed", err)
		return
	}
	if report.skipped {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs_ran":    report.ran,
		"jobs_failed": report.failed,
	}), "cron cycle complete")
}

func (s *Service) runCycle(ctx context.Context) (cycleReport, error) {
	release, err := s.locker.Acquire(ctx, lockName, s.env)
	if errors.Is(err, locks.ErrNotAcquired) {
		s.logg.Info(ctx, "cron lock held elsewhere; skipping cycle")
		return cycleReport{skipped: true}, nil
	}
	if err != nil {
		return cycleReport{}, fmt.Errorf("lock acquire: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	var report cycleReport
	for _, job := range s.registry.Due(s.now()) {
		if ctx.Err() != nil {
			break
		}
		report.ran++
		if err := s.runJob(ctx, job); err != nil {
			report.failed++
		}
	}
	return report, nil
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	started := s.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
		elapsed := s.now().Sub(started)
		s.metrics.ObserveDuration(name, elapsed)
		jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
		if err != nil {
			s.metrics.IncFailure(name)
			s.logg.Error(jobCtx, "cron job failed", err)
			return
		}
		s.metrics.IncSuccess(name)
		s.logg.Info(jobCtx, "cron job completed")
	}()

	return job.Run(jobCtx)
}
