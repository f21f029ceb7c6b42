package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stemsi/exstem-lifecycle/internal/clock"
	"github.com/stemsi/exstem-lifecycle/internal/config"
	"github.com/stemsi/exstem-lifecycle/internal/database"
	"github.com/stemsi/exstem-lifecycle/internal/logger"
	"github.com/stemsi/exstem-lifecycle/internal/repository"
	"github.com/stemsi/exstem-lifecycle/internal/service"
	"github.com/stemsi/exstem-lifecycle/internal/worker"
)

func main() {
	var nowFlag string
	flag.StringVar(&nowFlag, "now", "", `Evaluate dates as of this civil time ("2006-01-02 15:04:05")`)
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// Reports go to stdout; logs stay on stderr.
	log := logger.SetupWriter(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	loc, err := time.LoadLocation(cfg.CivilTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.CivilTimezone).Msg("Unknown civil timezone")
	}

	clk := clock.New(loc, log)
	if nowFlag != "" {
		at, err := time.ParseInLocation(clock.Layout, nowFlag, loc)
		if err != nil {
			log.Fatal().Err(err).Str("now", nowFlag).Msg("Invalid --now")
		}
		clk = clock.NewWithSource(loc, log, func() time.Time { return at })
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	store := repository.NewStore(pool)
	completeness := service.NewCompletenessEvaluator(clk, log)
	closer := service.NewAttemptCloser(store, clk, log)
	machine := service.NewStateMachine(store, completeness, closer, clk, log)
	reconciler := service.NewReconciler(store, machine, closer, log)
	jobs := worker.NewJobs(reconciler, log)

	var code int
	switch args[0] {
	case "all":
		code = runOnce(ctx, jobs, config.JobKey.ReconcileAll)
	case "orphans":
		code = runOnce(ctx, jobs, config.JobKey.CloseOrphans)
	case "schedule":
		scheduler, err := worker.NewScheduler(jobs, loc, []worker.Schedule{
			{Job: config.JobKey.ReconcileAll, Spec: cfg.ReconcileCron},
			{Job: config.JobKey.CloseOrphans, Spec: cfg.OrphanCron},
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("Invalid schedule")
			code = 1
			break
		}
		scheduler.Start(ctx)
	default:
		printUsage()
		code = 2
	}

	pool.Close()
	os.Exit(code)
}

// runOnce runs a job to completion, even past a signal, and prints its report.
func runOnce(ctx context.Context, jobs *worker.Jobs, job string) int {
	out, err := jobs.Run(context.WithoutCancel(ctx), job)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if !out.OK() {
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: reconcile [flags] <command>")
	fmt.Fprintln(os.Stderr, "Commands: all, orphans, schedule")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}
