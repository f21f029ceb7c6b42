package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/clock"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/repository"
)

// Domain Errors
var (
	ErrExamNotFound       = errors.New("exam not found")
	ErrInvalidTransition  = errors.New("exam state cannot move to the requested state")
	ErrExamIncomplete     = errors.New("exam wizard is incomplete, cannot publish")
	ErrInvalidTargetState = errors.New("target state must be PUBLISHED or FINALIZED")
)

// Trigger names what drove a lifecycle transition.
type Trigger string

const (
	TriggerLazy   Trigger = "lazy"
	TriggerSweep  Trigger = "sweep"
	TriggerBatch  Trigger = "batch"
	TriggerManual Trigger = "manual"
)

// Outcome is the effect a transition attempt had.
type Outcome string

const (
	OutcomeNoop      Outcome = "noop"
	OutcomePublished Outcome = "published"
	OutcomeFinalized Outcome = "finalized"
	// OutcomeBlocked means valid_from has passed but the wizard is
	// incomplete; the exam stays DRAFT until an administrator fixes it.
	OutcomeBlocked Outcome = "blocked"
)

// Result describes one transition attempt.
type Result struct {
	ExamID         uuid.UUID       `json:"exam_id"`
	Outcome        Outcome         `json:"outcome"`
	From           model.ExamState `json:"from"`
	To             model.ExamState `json:"to"`
	ClosedAttempts int64           `json:"closed_attempts"`
}

// Changed reports whether the attempt committed a state change.
func (r Result) Changed() bool {
	return r.Outcome == OutcomePublished || r.Outcome == OutcomeFinalized
}

// StateMachine owns the DRAFT → PUBLISHED → FINALIZED lifecycle.
//
// Every transition is one unit of work: the exam row is locked, the
// preconditions are re-checked against the committed state, and the new
// state plus any closed attempts commit together. A racing trigger blocks on
// the lock, then sees a state where the precondition fails and writes nothing.
type StateMachine struct {
	store        LifecycleStore
	completeness *CompletenessEvaluator
	closer       *AttemptCloser
	clock        *clock.Clock
	log          zerolog.Logger
}

// NewStateMachine creates a new StateMachine.
func NewStateMachine(
	store LifecycleStore,
	completeness *CompletenessEvaluator,
	closer *AttemptCloser,
	clk *clock.Clock,
	log zerolog.Logger,
) *StateMachine {
	return &StateMachine{
		store:        store,
		completeness: completeness,
		closer:       closer,
		clock:        clk,
		log:          log.With().Str("component", "state_machine").Logger(),
	}
}

// TryPublish publishes a DRAFT exam whose valid_from has passed and whose
// wizard is complete. Any other exam is left untouched.
func (m *StateMachine) TryPublish(ctx context.Context, examID uuid.UUID, trigger Trigger) (Result, error) {
	res := Result{ExamID: examID, Outcome: OutcomeNoop}

	err := m.store.RunInTx(ctx, func(tx repository.ExamTx) error {
		exam, err := tx.LockByID(ctx, examID)
		if err != nil {
			return err
		}
		res.From, res.To = exam.State, exam.State

		if exam.State != model.ExamStateDraft || exam.ValidFrom == nil || !m.clock.HasPassed(exam.ValidFrom) {
			return nil
		}

		if !m.completeness.IsPublishable(ctx, tx, exam, nil) {
			res.Outcome = OutcomeBlocked
			return nil
		}

		if err := tx.MarkPublished(ctx, exam.ID, m.clock.NowString()); err != nil {
			return err
		}
		res.Outcome, res.To = OutcomePublished, model.ExamStatePublished
		return nil
	})

	return m.finish(res, trigger, "", err)
}

// TryFinalize finalizes a PUBLISHED exam whose valid_until has passed,
// closing its in-progress attempts in the same unit of work.
func (m *StateMachine) TryFinalize(ctx context.Context, examID uuid.UUID, trigger Trigger) (Result, error) {
	res := Result{ExamID: examID, Outcome: OutcomeNoop}

	err := m.store.RunInTx(ctx, func(tx repository.ExamTx) error {
		exam, err := tx.LockByID(ctx, examID)
		if err != nil {
			return err
		}
		res.From, res.To = exam.State, exam.State

		if exam.State != model.ExamStatePublished || exam.ValidUntil == nil || !m.clock.HasPassed(exam.ValidUntil) {
			return nil
		}

		closed, err := m.finalizeLocked(ctx, tx, exam)
		if err != nil {
			return err
		}
		res.Outcome, res.To, res.ClosedAttempts = OutcomeFinalized, model.ExamStateFinalized, closed
		return nil
	})

	return m.finish(res, trigger, "", err)
}

// Reconcile applies the publish rule and then the finalize rule to one
// exam, each in its own unit of work. An exam whose window already closed
// can go DRAFT → PUBLISHED → FINALIZED in one call.
func (m *StateMachine) Reconcile(ctx context.Context, examID uuid.UUID, trigger Trigger) ([]Result, error) {
	published, err := m.TryPublish(ctx, examID, trigger)
	if err != nil {
		return []Result{published}, err
	}
	finalized, err := m.TryFinalize(ctx, examID, trigger)
	return []Result{published, finalized}, err
}

// ChangeState is the manual override. It ignores the validity dates but
// keeps the completeness gate for publishing, and only moves one step
// forward. actor identifies the administrator in the logs.
func (m *StateMachine) ChangeState(ctx context.Context, examID uuid.UUID, target model.ExamState, actor string) (Result, error) {
	res := Result{ExamID: examID, Outcome: OutcomeNoop}
	if target != model.ExamStatePublished && target != model.ExamStateFinalized {
		return res, ErrInvalidTargetState
	}

	err := m.store.RunInTx(ctx, func(tx repository.ExamTx) error {
		exam, err := tx.LockByID(ctx, examID)
		if err != nil {
			return err
		}
		res.From, res.To = exam.State, exam.State

		if exam.State.Rank()+1 != target.Rank() {
			return ErrInvalidTransition
		}

		switch target {
		case model.ExamStatePublished:
			if !m.completeness.IsPublishable(ctx, tx, exam, nil) {
				return ErrExamIncomplete
			}
			if err := tx.MarkPublished(ctx, exam.ID, m.clock.NowString()); err != nil {
				return err
			}
			res.Outcome = OutcomePublished
		case model.ExamStateFinalized:
			closed, err := m.finalizeLocked(ctx, tx, exam)
			if err != nil {
				return err
			}
			res.Outcome, res.ClosedAttempts = OutcomeFinalized, closed
		}
		res.To = target
		return nil
	})

	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrExamIncomplete) {
		m.log.Warn().
			Err(err).
			Str("exam_id", examID.String()).
			Str("from", string(res.From)).
			Str("to", string(target)).
			Str("trigger", string(TriggerManual)).
			Str("actor", actor).
			Msg("Manual state change rejected")
		return res, err
	}
	if errors.Is(err, repository.ErrStaleState) {
		return res, ErrInvalidTransition
	}
	return m.finish(res, TriggerManual, actor, err)
}

// finalizeLocked closes the attempts and marks the exam FINALIZED. The exam
// row must be locked by tx. Attempts that committed after the first close
// are closed in a second pass; any that start later still are left to the
// orphan job.
func (m *StateMachine) finalizeLocked(ctx context.Context, tx repository.ExamTx, exam *model.Exam) (int64, error) {
	closed, err := m.closer.CloseInProgress(ctx, tx, exam)
	if err != nil {
		return 0, err
	}

	if err := tx.MarkFinalized(ctx, exam.ID, m.clock.NowString()); err != nil {
		return 0, err
	}

	open, err := tx.CountInProgress(ctx, exam.ID)
	if err != nil {
		return 0, fmt.Errorf("count open attempts: %w", err)
	}
	if open == 0 {
		return closed, nil
	}

	late, err := m.closer.CloseInProgress(ctx, tx, exam)
	if err != nil {
		return 0, err
	}
	m.log.Warn().
		Str("exam_id", exam.ID.String()).
		Int64("late_attempts", open).
		Int64("closed", late).
		Msg("Attempts started while finalizing, closed in a second pass")
	return closed + late, nil
}

// finish logs the attempt and normalizes errors. A stale guarded update
// means another trigger committed first, which is not a failure.
func (m *StateMachine) finish(res Result, trigger Trigger, actor string, err error) (Result, error) {
	lc := m.log.With().
		Str("exam_id", res.ExamID.String()).
		Str("from", string(res.From)).
		Str("to", string(res.To)).
		Str("trigger", string(trigger))
	if actor != "" {
		lc = lc.Str("actor", actor)
	}
	logCtx := lc.Logger()

	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		return Result{ExamID: res.ExamID, Outcome: OutcomeNoop}, ErrExamNotFound
	case errors.Is(err, repository.ErrStaleState):
		logCtx.Debug().Msg("Exam moved by a concurrent trigger, nothing to do")
		return Result{ExamID: res.ExamID, Outcome: OutcomeNoop, From: res.From, To: res.From}, nil
	default:
		logCtx.Error().Err(err).Msg("Lifecycle transition failed, rolled back")
		return Result{ExamID: res.ExamID, Outcome: OutcomeNoop, From: res.From, To: res.From}, err
	}

	switch res.Outcome {
	case OutcomePublished:
		logCtx.Info().Msg("Exam published")
	case OutcomeFinalized:
		logCtx.Info().Int64("closed_attempts", res.ClosedAttempts).Msg("Exam finalized")
	case OutcomeBlocked:
		logCtx.Warn().Msg("Exam reached valid_from but its wizard is incomplete, left in DRAFT")
	}
	return res, nil
}
