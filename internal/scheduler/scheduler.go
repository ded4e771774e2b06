package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"horse.fit/trendwatch/internal/globaltime"
	"horse.fit/trendwatch/internal/metrics"
)

// Config drives one scheduler instance.
type Config struct {
	// CronSecret authenticates job invocations. When empty the scheduler
	// fails closed: every due job is finalized as CONFIG_MISSING without
	// being invoked.
	CronSecret string

	// MaxConcurrency bounds how many jobs run at once across all ticks.
	MaxConcurrency int

	// JobTimeout is the hard deadline for one invocation.
	JobTimeout time.Duration

	// TickInterval is the daemon polling cadence for Run.
	TickInterval time.Duration
}

// TickResult summarizes one scheduling pass.
type TickResult struct {
	Due     int
	Started int
	Skipped int
}

// Scheduler drains due jobs from the store and invokes them with bounded
// concurrency, recording every run in the execution log.
type Scheduler struct {
	store   Store
	invoker Invoker
	logger  zerolog.Logger
	metrics *metrics.Metrics
	cfg     Config

	sem chan struct{}
	wg  sync.WaitGroup
}

func New(store Store, invoker Invoker, logger zerolog.Logger, m *metrics.Metrics, cfg Config) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 120 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	return &Scheduler{
		store:   store,
		invoker: invoker,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Tick runs one scheduling pass: claim every due job and launch its
// invocation. The schedule advances only when the run succeeds. Job bodies
// run asynchronously; call Wait (or Run, which waits on shutdown) to drain
// them.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	now := globaltime.UTC()
	jobs, err := s.store.DueJobs(ctx, now)
	if err != nil {
		return TickResult{}, err
	}

	result := TickResult{Due: len(jobs)}
	for _, job := range jobs {
		schedule, err := cron.ParseStandard(job.Cadence)
		if err != nil {
			s.finalizeUnstartable(ctx, job, CodeValidation, err, now)
			result.Skipped++
			continue
		}

		executionID, started, err := s.store.StartExecution(ctx, job.Name, now)
		if err != nil {
			return result, err
		}
		if !started {
			// A previous run is still in flight; leave the schedule alone
			// so the job is retried next tick.
			s.logger.Debug().Str("job", job.Name).Msg("job already running; skipping")
			s.countExecution(job.Name, "skipped")
			result.Skipped++
			continue
		}

		result.Started++
		s.wg.Add(1)
		go s.runJob(ctx, job, executionID, schedule)
	}
	return result, nil
}

// Run ticks on the configured interval until the context is canceled, then
// drains in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			s.logger.Error().Err(err).Msg("scheduler tick failed")
		}
		select {
		case <-ctx.Done():
			s.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	s.Wait()
	return ctx.Err()
}

// Wait blocks until every launched job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job, executionID int64, schedule cron.Schedule) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.finish(job, executionID, "failed", CodeTimeout, ctx.Err(), schedule)
		return
	}

	if s.cfg.CronSecret == "" {
		s.finish(job, executionID, "failed", CodeConfigMissing,
			fmt.Errorf("cron secret is not configured"), schedule)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	// Exactly one invocation per execution; a failed job is due again on
	// the next tick rather than retried in place.
	if err := s.invoker.Invoke(jobCtx, job, s.cfg.CronSecret); err != nil {
		s.finish(job, executionID, "failed", classify(err), err, schedule)
		return
	}
	s.finish(job, executionID, "succeeded", "", nil, schedule)
}

func (s *Scheduler) finish(job Job, executionID int64, status, code string, cause error, schedule cron.Schedule) {
	// Finalization must survive the canceled job context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := globaltime.UTC()
	if status == "succeeded" && schedule != nil {
		// Only a successful run consumes the cadence slot; failures leave
		// next_run_at alone so the job is picked up again next tick. The
		// schedule advances before the execution row closes so a tick in
		// between cannot double-start the job.
		if err := s.store.AdvanceSchedule(ctx, job.Name, now, schedule.Next(now)); err != nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("failed to advance schedule")
		}
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.store.FinishExecution(ctx, executionID, status, code, msg, now); err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Int64("execution_id", executionID).
			Msg("failed to finalize execution")
	}

	event := s.logger.Info()
	if status == "failed" {
		event = s.logger.Warn().Str("error_code", code).Err(cause)
	}
	event.Str("job", job.Name).Str("status", status).Msg("job execution finished")
	s.countExecution(job.Name, status)
}

func (s *Scheduler) finalizeUnstartable(ctx context.Context, job Job, code string, cause error, now time.Time) {
	executionID, started, err := s.store.StartExecution(ctx, job.Name, now)
	if err != nil || !started {
		s.logger.Error().Err(err).Str("job", job.Name).Msg("cannot record unstartable job")
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.store.FinishExecution(ctx, executionID, "failed", code, msg, now); err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Msg("failed to finalize unstartable job")
	}
	s.countExecution(job.Name, "failed")
}

func (s *Scheduler) countExecution(job, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.JobExecutions.WithLabelValues(job, status).Inc()
}
