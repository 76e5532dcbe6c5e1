package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type jobMetrics interface {
	ObserveRun(job string, took time.Duration, err error)
	AddSwept(job, result string, n int)
}

// ServiceParams configure the sweeper.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs the registered jobs on a fixed cadence. Only the instance that
// holds the lock runs a cycle; the others skip it.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  jobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	var missing error
	if params.Logger == nil {
		missing = multierr.Append(missing, errors.New("logger required"))
	}
	if params.Lock == nil {
		missing = multierr.Append(missing, errors.New("lock required"))
	}
	if missing != nil {
		return nil, fmt.Errorf("sweeper: %w", missing)
	}

	svc := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		interval: params.Interval,
	}
	if svc.registry == nil {
		svc.registry = &Registry{}
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if params.Metrics != nil {
		svc.metrics = params.Metrics
	}
	return svc, nil
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
// The interval is measured from the end of one cycle to the start of the next.
func (s *Service) Run(ctx context.Context) error {
	wait := time.NewTimer(0)
	defer wait.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait.C:
		}
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "sweeper.cycle_failed", err)
		}
		wait.Reset(s.interval)
	}
}

// RunOnce runs every job a single time. A failing job does not stop the others.
func (s *Service) RunOnce(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire sweeper lock: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "sweeper.cycle_skipped_locked")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "sweeper.lock_release_failed", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	started := time.Now()
	tally, err := job.Run(jobCtx)
	took := time.Since(started)

	if s.metrics != nil {
		s.metrics.ObserveRun(name, took, err)
		for result, n := range tally {
			s.metrics.AddSwept(name, result, n)
		}
	}

	fields := make(map[string]any, len(tally)+1)
	for result, n := range tally {
		fields[result] = n
	}
	fields["duration_ms"] = took.Milliseconds()
	jobCtx = s.logg.WithFields(jobCtx, fields)
	if err != nil {
		s.logg.Error(jobCtx, "sweeper.job_failed", err)
		return
	}
	s.logg.Info(jobCtx, "sweeper.job_completed")
}
