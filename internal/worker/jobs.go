package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/config"
	"github.com/stemsi/exstem-lifecycle/internal/service"
)

// Reconciler is the batch surface of *service.Reconciler.
type Reconciler interface {
	SweepAll(ctx context.Context, trigger service.Trigger) (service.SweepReport, error)
	CloseOrphans(ctx context.Context, trigger service.Trigger) (service.OrphanReport, error)
}

// Outcome is what one job run produced.
type Outcome struct {
	Job    string `json:"job"`
	Report any    `json:"report"`
	Failed int    `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the run finished without failures.
func (o Outcome) OK() bool {
	return o.Failed == 0 && o.Error == ""
}

// Jobs holds the idempotent operator batch jobs, keyed by config.JobKey.
type Jobs struct {
	reconciler Reconciler
	log        zerolog.Logger
}

// NewJobs creates a new Jobs.
func NewJobs(reconciler Reconciler, log zerolog.Logger) *Jobs {
	return &Jobs{
		reconciler: reconciler,
		log:        log.With().Str("component", "jobs").Logger(),
	}
}

// Names returns the registered job names in a stable order.
func (j *Jobs) Names() []string {
	names := []string{config.JobKey.ReconcileAll, config.JobKey.CloseOrphans}
	sort.Strings(names)
	return names
}

// Run executes the named job with the batch trigger.
func (j *Jobs) Run(ctx context.Context, name string) (Outcome, error) {
	out := Outcome{Job: name}

	switch name {
	case config.JobKey.ReconcileAll:
		report, err := j.reconciler.SweepAll(ctx, service.TriggerBatch)
		out.Report, out.Failed = report, report.Failed
		if err != nil {
			out.Error = err.Error()
		}
	case config.JobKey.CloseOrphans:
		report, err := j.reconciler.CloseOrphans(ctx, service.TriggerBatch)
		out.Report, out.Failed = report, report.Failed
		if err != nil {
			out.Error = err.Error()
		}
	default:
		return out, fmt.Errorf("unknown job %q", name)
	}

	evt := j.log.Info()
	if !out.OK() {
		evt = j.log.Warn()
	}
	evt.Str("job", name).Int("failed", out.Failed).Str("error", out.Error).Msg("Job finished")
	return out, nil
}
