package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/service"
)

func TestGetByIDReconcilesBeforeReturning(t *testing.T) {
	h := newHarness(t)
	id := h.addReadyExam(ptr("2025-02-28 10:00:00"), ptr("2025-03-10 10:00:00"))

	exam, err := h.exams.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if exam.State != model.ExamStatePublished || exam.PublishedAt == nil {
		t.Fatalf("exam = %s published_at %v, want PUBLISHED with timestamp", exam.State, exam.PublishedAt)
	}
}

func TestGetByIDFinalizesExpiredExam(t *testing.T) {
	h := newHarness(t)
	id := h.store.AddExam(model.Exam{
		State:      model.ExamStatePublished,
		ValidFrom:  ptr("2025-02-01 10:00:00"),
		ValidUntil: ptr("2025-02-28 10:00:00"),
	})
	h.store.StartAttempt(id, 1, "2025-02-28 09:00:00")

	exam, err := h.exams.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if exam.State != model.ExamStateFinalized {
		t.Fatalf("state = %s, want FINALIZED", exam.State)
	}
	assertNoOpenAttemptsWhenFinalized(t, h.store, id)
}

func TestGetByIDSkipsExamsWithoutDates(t *testing.T) {
	h := newHarness(t)
	id := h.store.AddExam(completeExam(nil, nil))
	h.store.Fail("LockByID", errors.New("should not lock"))

	exam, err := h.exams.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if exam.State != model.ExamStateDraft {
		t.Fatalf("state = %s, want DRAFT", exam.State)
	}
}

func TestGetByIDSwallowsReconcileFailure(t *testing.T) {
	h := newHarness(t)
	id := h.store.AddExam(model.Exam{
		State:      model.ExamStatePublished,
		ValidFrom:  ptr("2025-02-01 10:00:00"),
		ValidUntil: ptr("2025-02-28 10:00:00"),
	})
	h.store.Fail("MarkFinalized", errors.New("connection refused"))

	exam, err := h.exams.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID should not surface reconcile errors, got %v", err)
	}
	if exam.State != model.ExamStatePublished {
		t.Fatalf("state = %s, want last known PUBLISHED", exam.State)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.exams.GetByID(context.Background(), uuid.New()); !errors.Is(err, service.ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestReadinessSyncsWizardStep(t *testing.T) {
	h := newHarness(t)
	id := h.store.AddExam(completeExam(ptr("2025-06-01 08:00:00"), nil))
	w := completeWizard(id)
	w.Tracks = nil
	h.store.SetWizard(id, w)

	exam, r, err := h.exams.Readiness(context.Background(), id)
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if r.Publishable {
		t.Fatal("exam without tracks should not be publishable")
	}
	if exam.WizardStep != 2 || h.store.Exam(id).WizardStep != 2 {
		t.Fatalf("wizard_step = %d (stored %d), want 2", exam.WizardStep, h.store.Exam(id).WizardStep)
	}

	h.store.SetWizard(id, completeWizard(id))
	exam, r, err = h.exams.Readiness(context.Background(), id)
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if !r.Publishable || exam.WizardStep != model.WizardSteps {
		t.Fatalf("readiness = %+v wizard_step = %d, want publishable at step %d", r, exam.WizardStep, model.WizardSteps)
	}
}

func TestReadinessLeavesPublishedWizardStep(t *testing.T) {
	h := newHarness(t)
	e := completeExam(ptr("2025-02-01 08:00:00"), nil)
	e.State = model.ExamStatePublished
	e.WizardStep = model.WizardSteps
	id := h.store.AddExam(e)
	h.store.SetWizard(id, model.Wizard{})

	exam, r, err := h.exams.Readiness(context.Background(), id)
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if r.Complete() {
		t.Fatal("empty wizard should not be complete")
	}
	if exam.WizardStep != model.WizardSteps {
		t.Fatalf("wizard_step = %d, want %d", exam.WizardStep, model.WizardSteps)
	}
}

func TestExamServiceChangeState(t *testing.T) {
	h := newHarness(t)
	id := h.addReadyExam(ptr("2025-06-01 08:00:00"), nil)

	exam, res, err := h.exams.ChangeState(context.Background(), id, model.ExamStatePublished, "admin:4")
	if err != nil {
		t.Fatalf("ChangeState: %v", err)
	}
	if res.Outcome != service.OutcomePublished || res.From != model.ExamStateDraft || res.To != model.ExamStatePublished {
		t.Fatalf("result = %+v", res)
	}
	if exam.State != model.ExamStatePublished {
		t.Fatalf("state = %s, want PUBLISHED", exam.State)
	}
}
