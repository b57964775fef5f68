package cron

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// Job is one scheduled circulation task.
type Job interface {
	Name() string
	Run(ctx context.Context) (Report, error)
}

// Report counts what a run touched, keyed by kind ("queued", "rows_deleted").
type Report map[string]int64

type ServiceParams struct {
	Logger   *logger.Logger
	Jobs     []Job
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service ticks every Interval and runs each job under its own lease.
type Service struct {
	logg     *logger.Logger
	jobs     []Job
	locker   Locker
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	seen := make(map[string]struct{}, len(params.Jobs))
	jobs := make([]Job, 0, len(params.Jobs))
	for _, job := range params.Jobs {
		if job == nil {
			continue
		}
		name := job.Name()
		if name == "" {
			return nil, fmt.Errorf("job name required")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate job %q", name)
		}
		seen[name] = struct{}{}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		jobs:     jobs,
		locker:   params.Locker,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// JobNames lists the scheduled jobs in run order.
func (s *Service) JobNames() []string {
	names := make([]string, len(s.jobs))
	for i, job := range s.jobs {
		names[i] = job.Name()
	}
	return names
}

// Run ticks once immediately and then every interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every job once and returns how many actually ran here. A failed
// or leased-elsewhere job never stops the others.
func (s *Service) tick(ctx context.Context) int {
	ctx = s.logg.WithField(ctx, "cron_tick", uuid.NewString())
	ran := 0
	for _, job := range s.jobs {
		if s.runJob(ctx, job) {
			ran++
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"jobs": len(s.jobs), "ran": ran}), "cron tick complete")
	return ran
}

func (s *Service) runJob(ctx context.Context, job Job) bool {
	name := job.Name()
	ctx = s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	lease, ok, err := s.locker.Acquire(ctx, name)
	if err != nil {
		s.logg.Error(ctx, "cron lease unavailable", err)
		s.metrics.IncFailure(name)
		return false
	}
	if !ok {
		s.logg.Debug(ctx, "job leased by another worker")
		s.metrics.IncSkipped(name)
		return false
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logg.Error(ctx, "cron lease release failed", err)
		}
	}()

	start := time.Now()
	report, err := job.Run(ctx)
	elapsed := time.Since(start)
	s.metrics.ObserveDuration(name, elapsed)

	fields := map[string]any{"duration_ms": elapsed.Milliseconds()}
	for _, kind := range report.kinds() {
		fields[kind] = report[kind]
		s.metrics.AddItems(name, kind, report[kind])
	}
	ctx = s.logg.WithFields(ctx, fields)
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
		s.metrics.IncFailure(name)
		return true
	}
	s.logg.Info(ctx, "job completed")
	s.metrics.IncSuccess(name)
	return true
}

func (r Report) kinds() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
