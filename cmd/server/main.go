package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/clock"
	"github.com/stemsi/exstem-lifecycle/internal/config"
	"github.com/stemsi/exstem-lifecycle/internal/database"
	"github.com/stemsi/exstem-lifecycle/internal/handler"
	"github.com/stemsi/exstem-lifecycle/internal/logger"
	"github.com/stemsi/exstem-lifecycle/internal/repository"
	"github.com/stemsi/exstem-lifecycle/internal/router"
	"github.com/stemsi/exstem-lifecycle/internal/service"
	"github.com/stemsi/exstem-lifecycle/internal/validator"
	"github.com/stemsi/exstem-lifecycle/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("timezone", cfg.CivilTimezone).
		Dur("sweep_interval", cfg.SweepInterval).
		Msg("Starting ExStem Lifecycle")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	loc, err := time.LoadLocation(cfg.CivilTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.CivilTimezone).Msg("Unknown civil timezone")
	}
	clk := clock.New(loc, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Services ──────────────────────────────────────────
	store := repository.NewStore(pool)
	completeness := service.NewCompletenessEvaluator(clk, log)
	closer := service.NewAttemptCloser(store, clk, log)
	machine := service.NewStateMachine(store, completeness, closer, clk, log)
	reconciler := service.NewReconciler(store, machine, closer, log)
	examService := service.NewExamService(store, reconciler, machine, completeness, log)
	authService := service.NewAuthService(cfg)
	throttle := service.NewSweepThrottle(rdb, reconciler, clk, cfg.SweepInterval, cfg.SweepMarkerTTL, log)
	jobs := worker.NewJobs(reconciler, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Exam:      handler.NewExamHandler(examService),
		Lifecycle: handler.NewLifecycleHandler(jobs),
		System:    handler.NewSystemHandler(pool, rdb, clk, log),
	}

	// ─── Catch Up Before Accepting Traffic ────────────────────────────
	// Exams whose dates passed while the service was down are moved now.
	if report, err := reconciler.SweepAll(ctx, service.TriggerBatch); err != nil {
		log.Warn().Err(err).Msg("Startup sweep finished with errors")
	} else {
		log.Info().Int("changes", report.Changes()).Msg("Startup sweep complete")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, throttle, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// In-flight requests may be mid-sweep; give them time to commit.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
