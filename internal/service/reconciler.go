package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/model"
)

// SweepReport summarizes one pass over all exams.
type SweepReport struct {
	Trigger        Trigger `json:"trigger"`
	Published      int     `json:"published"`
	Finalized      int     `json:"finalized"`
	Blocked        int     `json:"blocked"`
	Failed         int     `json:"failed"`
	ClosedAttempts int64   `json:"closed_attempts"`
	DurationMS     int64   `json:"duration_ms"`
}

// Changes is the number of committed state changes.
func (r SweepReport) Changes() int {
	return r.Published + r.Finalized
}

// OrphanReport summarizes one orphan-attempt cleanup pass.
type OrphanReport struct {
	Trigger        Trigger `json:"trigger"`
	Exams          int     `json:"exams"`
	ClosedAttempts int64   `json:"closed_attempts"`
	Failed         int     `json:"failed"`
	DurationMS     int64   `json:"duration_ms"`
}

// Reconciler drives the state machine across exams for the three triggers.
type Reconciler struct {
	store   LifecycleStore
	machine *StateMachine
	closer  *AttemptCloser
	log     zerolog.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(store LifecycleStore, machine *StateMachine, closer *AttemptCloser, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		machine: machine,
		closer:  closer,
		log:     log.With().Str("component", "reconciler").Logger(),
	}
}

// ReconcileOne brings a single exam up to date. Finalized exams and exams
// with no vigency date are skipped without touching the store.
func (r *Reconciler) ReconcileOne(ctx context.Context, exam *model.Exam, trigger Trigger) error {
	if exam == nil || exam.State == model.ExamStateFinalized || !exam.HasVigencyDate() {
		return nil
	}
	_, err := r.machine.Reconcile(ctx, exam.ID, trigger)
	return err
}

// SweepAll runs the publish pass and then the finalize pass over every
// candidate exam, one unit of work per exam. A failing exam is counted and
// skipped; the returned error is non-nil only when a candidate list could
// not be read.
func (r *Reconciler) SweepAll(ctx context.Context, trigger Trigger) (SweepReport, error) {
	start := time.Now()
	report := SweepReport{Trigger: trigger}
	var errs []error

	publishIDs, err := r.store.ListPublishCandidates(ctx)
	if err != nil {
		r.log.Error().Err(err).Str("trigger", string(trigger)).Msg("Failed to list publish candidates")
		errs = append(errs, fmt.Errorf("list publish candidates: %w", err))
	}
	for _, id := range publishIDs {
		res, err := r.machine.TryPublish(ctx, id, trigger)
		r.tally(&report, res, err)
	}

	// Listed after the publish pass so exams published just now with an
	// expired window are finalized in the same sweep.
	finalizeIDs, err := r.store.ListFinalizeCandidates(ctx)
	if err != nil {
		r.log.Error().Err(err).Str("trigger", string(trigger)).Msg("Failed to list finalize candidates")
		errs = append(errs, fmt.Errorf("list finalize candidates: %w", err))
	}
	for _, id := range finalizeIDs {
		res, err := r.machine.TryFinalize(ctx, id, trigger)
		r.tally(&report, res, err)
	}

	report.DurationMS = time.Since(start).Milliseconds()

	evt := r.log.Info()
	if report.Failed > 0 || len(errs) > 0 {
		evt = r.log.Warn()
	}
	evt.
		Str("trigger", string(trigger)).
		Int("published", report.Published).
		Int("finalized", report.Finalized).
		Int("blocked", report.Blocked).
		Int("failed", report.Failed).
		Int64("closed_attempts", report.ClosedAttempts).
		Int64("duration_ms", report.DurationMS).
		Msg("Lifecycle sweep completed")

	return report, errors.Join(errs...)
}

func (r *Reconciler) tally(report *SweepReport, res Result, err error) {
	switch {
	case errors.Is(err, ErrExamNotFound):
		// Deleted between listing and locking.
	case err != nil:
		report.Failed++
	default:
		switch res.Outcome {
		case OutcomePublished:
			report.Published++
		case OutcomeFinalized:
			report.Finalized++
			report.ClosedAttempts += res.ClosedAttempts
		case OutcomeBlocked:
			report.Blocked++
		}
	}
}

// CloseOrphans force-closes in-progress attempts that still belong to
// FINALIZED exams.
func (r *Reconciler) CloseOrphans(ctx context.Context, trigger Trigger) (OrphanReport, error) {
	start := time.Now()
	report := OrphanReport{Trigger: trigger}

	ids, err := r.store.ListFinalizedWithOpenAttempts(ctx)
	if err != nil {
		r.log.Error().Err(err).Str("trigger", string(trigger)).Msg("Failed to list finalized exams with open attempts")
		return report, fmt.Errorf("list finalized exams with open attempts: %w", err)
	}

	for _, id := range ids {
		closed, err := r.closer.CloseForExam(ctx, id, trigger)
		switch {
		case errors.Is(err, ErrExamNotFound):
		case err != nil:
			report.Failed++
		default:
			if closed > 0 {
				report.Exams++
				report.ClosedAttempts += closed
			}
		}
	}

	report.DurationMS = time.Since(start).Milliseconds()
	r.log.Info().
		Str("trigger", string(trigger)).
		Int("exams", report.Exams).
		Int64("closed_attempts", report.ClosedAttempts).
		Int("failed", report.Failed).
		Int64("duration_ms", report.DurationMS).
		Msg("Orphan attempt cleanup completed")

	return report, nil
}
