package worker

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Schedule binds a job name to a five-field cron expression.
type Schedule struct {
	Job  string
	Spec string
}

// Scheduler runs the batch jobs on cron schedules in the civil timezone.
// A job still running when its next tick fires is skipped for that tick.
type Scheduler struct {
	jobs *Jobs
	cron *cron.Cron
	ctx  context.Context
	log  zerolog.Logger
}

// NewScheduler creates a Scheduler and registers every schedule. An unknown
// job or an invalid cron expression is an error.
func NewScheduler(jobs *Jobs, loc *time.Location, schedules []Schedule, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		jobs: jobs,
		ctx:  context.Background(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, sc := range schedules {
		if !slices.Contains(jobs.Names(), sc.Job) {
			return nil, fmt.Errorf("schedule %q: unknown job", sc.Job)
		}
		job := sc.Job
		if _, err := s.cron.AddFunc(sc.Spec, func() { s.run(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", sc.Job, sc.Spec, err)
		}
		s.log.Info().Str("job", sc.Job).Str("spec", sc.Spec).Msg("Job scheduled")
	}
	return s, nil
}

// Start runs the schedules until ctx is cancelled, then waits for running
// jobs to finish. It blocks; call it in a goroutine to run in background.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")

	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopping...")
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) run(job string) {
	// A started job runs to completion; Start waits for it on shutdown.
	if _, err := s.jobs.Run(context.WithoutCancel(s.ctx), job); err != nil {
		s.log.Error().Err(err).Str("job", job).Msg("Scheduled job failed")
	}
}

// Entries returns the next run time of every registered schedule.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
