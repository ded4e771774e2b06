package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/trendwatch/internal/cli"
	"horse.fit/trendwatch/internal/httpapi"
	"horse.fit/trendwatch/internal/scheduler"
)

func newScheduler(rt *runtime) *scheduler.Scheduler {
	store := scheduler.NewStore(rt.pool)
	invoker := scheduler.NewHTTPInvoker(rt.cfg.JobBaseURL, rt.cfg.JobTimeout)
	return scheduler.New(store, invoker, rt.logger, rt.metrics, scheduler.Config{
		CronSecret:     rt.cfg.CronSecret,
		MaxConcurrency: rt.cfg.SchedulerMaxConcurrency,
		JobTimeout:     rt.cfg.JobTimeout,
		TickInterval:   rt.cfg.SchedulerTickInterval,
	})
}

func runTick(args []string) int {
	fs := flag.NewFlagSet("tick", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tick failed: %v\n", err)
		return 1
	}
	defer rt.close()

	sched := newScheduler(rt)
	result, err := sched.Tick(ctx)
	if err != nil {
		rt.logger.Error().Err(err).Msg("tick failed")
		fmt.Fprintf(os.Stderr, "Tick failed: %v\n", err)
		return 1
	}
	sched.Wait()

	rt.logger.Info().
		Int("due", result.Due).
		Int("started", result.Started).
		Int("skipped", result.Skipped).
		Msg("tick completed")
	fmt.Printf("tick due=%d started=%d skipped=%d\n", result.Due, result.Started, result.Skipped)
	return 0
}

func runJobs(args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	seed := fs.Bool("seed", false, "Insert the default job definitions if missing")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Jobs failed: %v\n", err)
		return 1
	}
	defer rt.close()

	store := scheduler.NewStore(rt.pool)
	if *seed {
		if err := store.SeedJobs(ctx, scheduler.DefaultJobs()); err != nil {
			rt.logger.Error().Err(err).Msg("seed jobs failed")
			fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
			return 1
		}
		rt.logger.Info().Msg("default jobs seeded")
	}

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		rt.logger.Error().Err(err).Msg("list jobs failed")
		fmt.Fprintf(os.Stderr, "Jobs failed: %v\n", err)
		return 1
	}

	fmt.Printf("jobs count=%d\n", len(jobs))
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		next := "never"
		if job.NextRunAt != nil {
			next = job.NextRunAt.UTC().Format(time.RFC3339)
		}
		warn := ""
		if err := scheduler.ValidateCadence(job.Cadence); err != nil {
			warn = "  INVALID CADENCE"
		}
		fmt.Printf("  %-12s %-16s %-8s next=%s target=%s%s\n", job.Name, job.Cadence, state, next, job.Target, warn)
	}
	return 0
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	seed := fs.Bool("seed", true, "Seed default job definitions on startup")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Daemon failed: %v\n", err)
		return 1
	}
	defer rt.close()

	if rt.cfg.CronSecret == "" {
		rt.logger.Warn().Msg("CRON_SECRET is not set; every scheduled job will fail closed")
	}

	store := scheduler.NewStore(rt.pool)
	if *seed {
		if err := store.SeedJobs(ctx, scheduler.DefaultJobs()); err != nil {
			rt.logger.Error().Err(err).Msg("seed jobs failed")
			fmt.Fprintf(os.Stderr, "Daemon failed: %v\n", err)
			return 1
		}
	}

	sched := newScheduler(rt)
	rt.logger.Info().
		Dur("tick_interval", rt.cfg.SchedulerTickInterval).
		Int("max_concurrency", rt.cfg.SchedulerMaxConcurrency).
		Msg("scheduler daemon started")

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error().Err(err).Msg("scheduler daemon failed")
		return 1
	}
	rt.logger.Info().Msg("scheduler daemon stopped")
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Bind host (overrides API_HOST)")
	port := fs.Int("port", 0, "Bind port (overrides API_PORT)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := initRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
		return 1
	}
	defer rt.close()

	bindHost := rt.cfg.APIHost
	if *host != "" {
		bindHost = *host
	}
	bindPort := rt.cfg.APIPort
	if *port > 0 {
		bindPort = *port
	}

	server := httpapi.NewServer(
		rt.pool,
		rt.logger,
		newEvidenceService(rt),
		newTrendService(rt),
		newDedupService(rt),
		newScorer(rt),
		rt.registry,
		httpapi.Options{
			Host:          bindHost,
			Port:          bindPort,
			CronSecret:    rt.cfg.CronSecret,
			MinConfidence: rt.cfg.MinConfidence,
			ActiveWindow:  rt.cfg.ActiveWindow,
		},
	)

	if err := server.Start(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("serve failed")
		fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
		return 1
	}
	return 0
}
