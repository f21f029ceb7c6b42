package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/clock"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/service"
	"github.com/stemsi/exstem-lifecycle/internal/service/servicetest"
)

const testNow = "2025-03-01 10:00:00"

func ptr(s string) *string { return &s }

func parseCivil(t *testing.T, at string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now, err := time.ParseInLocation(clock.Layout, at, loc)
	if err != nil {
		t.Fatalf("parse now: %v", err)
	}
	return now
}

// harness wires the lifecycle services over an in-memory store.
type harness struct {
	t            *testing.T
	mu           sync.Mutex
	now          time.Time
	store        *servicetest.Store
	clock        *clock.Clock
	completeness *service.CompletenessEvaluator
	closer       *service.AttemptCloser
	machine      *service.StateMachine
	reconciler   *service.Reconciler
	exams        *service.ExamService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()
	h := &harness{t: t, store: servicetest.NewStore(), now: parseCivil(t, testNow)}
	h.clock = clock.NewWithSource(h.now.Location(), log, func() time.Time {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.now
	})
	h.completeness = service.NewCompletenessEvaluator(h.clock, log)
	h.closer = service.NewAttemptCloser(h.store, h.clock, log)
	h.machine = service.NewStateMachine(h.store, h.completeness, h.closer, h.clock, log)
	h.reconciler = service.NewReconciler(h.store, h.machine, h.closer, log)
	h.exams = service.NewExamService(h.store, h.reconciler, h.machine, h.completeness, log)
	return h
}

// setNow moves the harness clock.
func (h *harness) setNow(at string) {
	now := parseCivil(h.t, at)
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// completeExam returns a DRAFT exam whose general fields pass step 1.
func completeExam(validFrom, validUntil *string) model.Exam {
	return model.Exam{
		Code:             "ADM-2025-I",
		Title:            "Admission exam 2025-I",
		Description:      "General admission exam for the first term.",
		TimeLimitMinutes: 180,
		AccessMode:       model.AccessModePublic,
		State:            model.ExamStateDraft,
		ValidFrom:        validFrom,
		ValidUntil:       validUntil,
	}
}

// completeWizard returns two sub-tests, one track ruling both and a
// question in each sub-test.
func completeWizard(examID uuid.UUID) model.Wizard {
	st1, st2 := int64(11), int64(12)
	return model.Wizard{
		SubTests: []model.SubTest{
			{ID: st1, ExamID: examID, Name: "Math", TimeLimitMinutes: 60, Position: 1},
			{ID: st2, ExamID: examID, Name: "Verbal", TimeLimitMinutes: 60, Position: 2},
		},
		Tracks: []model.Track{
			{ID: 21, ExamID: examID, Name: "Engineering", Rules: []model.ScoringRule{
				{ID: 31, TrackID: 21, SubTestID: st1, CorrectPoints: 20, IncorrectPoints: -1.125},
				{ID: 32, TrackID: 21, SubTestID: st2, CorrectPoints: 10},
			}},
		},
		Assignments: []model.QuestionAssignment{
			{ExamID: examID, QuestionID: 101, SubTestID: &st1},
			{ExamID: examID, QuestionID: 102, SubTestID: &st2},
		},
	}
}

// addReadyExam stores a complete exam with its wizard.
func (h *harness) addReadyExam(validFrom, validUntil *string) uuid.UUID {
	id := h.store.AddExam(completeExam(validFrom, validUntil))
	h.store.SetWizard(id, completeWizard(id))
	return id
}

// assertNoOpenAttemptsWhenFinalized checks that no finalized exam owns an
// in-progress attempt.
func assertNoOpenAttemptsWhenFinalized(t *testing.T, s *servicetest.Store, ids ...uuid.UUID) {
	t.Helper()
	for _, id := range ids {
		if s.Exam(id).State != model.ExamStateFinalized {
			continue
		}
		for _, a := range s.Attempts(id) {
			if a.State == model.AttemptStateInProgress {
				t.Fatalf("finalized exam %s still has in-progress attempt %s", id, a.ID)
			}
		}
	}
}
