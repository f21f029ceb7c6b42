package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/repository"
)

// ExamService is the read boundary for single exams. Loading an exam
// reconciles it first, so callers never see a state the dates have
// already moved past.
type ExamService struct {
	store        LifecycleStore
	reconciler   *Reconciler
	machine      *StateMachine
	completeness *CompletenessEvaluator
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	store LifecycleStore,
	reconciler *Reconciler,
	machine *StateMachine,
	completeness *CompletenessEvaluator,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		store:        store,
		reconciler:   reconciler,
		machine:      machine,
		completeness: completeness,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID loads an exam, reconciles it and returns the result. Reconcile
// failures are logged and the last-known state is returned.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if exam.State == model.ExamStateFinalized || !exam.HasVigencyDate() {
		return exam, nil
	}

	if err := s.reconciler.ReconcileOne(ctx, exam, TriggerLazy); err != nil {
		s.log.Warn().
			Err(err).
			Str("exam_id", id.String()).
			Str("trigger", string(TriggerLazy)).
			Msg("Lazy reconcile failed, returning last known state")
		return exam, nil
	}

	fresh, err := s.load(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to reload exam after reconcile")
		return exam, nil
	}
	return fresh, nil
}

// Readiness evaluates the wizard of an exam. While the exam is DRAFT the
// stored wizard_step is synced to the number of leading completed steps.
func (s *ExamService) Readiness(ctx context.Context, id uuid.UUID) (*model.Exam, Readiness, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return nil, Readiness{}, err
	}

	r := s.completeness.Evaluate(ctx, s.store, exam, nil)

	if exam.State == model.ExamStateDraft {
		if step := r.CompletedSteps(); step != exam.WizardStep {
			if err := s.store.UpdateWizardStep(ctx, id, step); err != nil {
				s.log.Warn().Err(err).Str("exam_id", id.String()).Int("wizard_step", step).Msg("Failed to sync wizard step")
			} else {
				exam.WizardStep = step
			}
		}
	}
	return exam, r, nil
}

// ChangeState applies a manual state change and returns the updated exam.
func (s *ExamService) ChangeState(ctx context.Context, id uuid.UUID, target model.ExamState, actor string) (*model.Exam, Result, error) {
	res, err := s.machine.ChangeState(ctx, id, target, actor)
	if err != nil {
		return nil, res, err
	}
	exam, err := s.load(ctx, id)
	if err != nil {
		return nil, res, err
	}
	return exam, res, nil
}

func (s *ExamService) load(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}
