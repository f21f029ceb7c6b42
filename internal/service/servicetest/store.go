// Package servicetest provides an in-memory lifecycle store for tests.
//
// Transactions are serialized, which gives the same observable behavior as
// the row lock the PostgreSQL store takes: a second transaction on the same
// exam only starts after the first committed or rolled back.
package servicetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/repository"
)

// Store is an in-memory implementation of service.LifecycleStore.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	order       []uuid.UUID
	exams       map[uuid.UUID]*model.Exam
	subTests    map[uuid.UUID][]model.SubTest
	tracks      map[uuid.UUID][]model.Track
	assignments map[uuid.UUID][]model.QuestionAssignment
	attempts    []*model.Attempt

	publishWrites  int
	finalizeWrites int

	failures map[string]error
	after    map[string]func()
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		exams:       make(map[uuid.UUID]*model.Exam),
		subTests:    make(map[uuid.UUID][]model.SubTest),
		tracks:      make(map[uuid.UUID][]model.Track),
		assignments: make(map[uuid.UUID][]model.QuestionAssignment),
		failures:    make(map[string]error),
		after:       make(map[string]func()),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// After makes fn run each time op returns inside a transaction, without the
// store lock held, so fn may write through the Store. A nil fn clears it.
func (s *Store) After(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.after, op)
		return
	}
	s.after[op] = fn
}

func (s *Store) runAfter(op string) {
	s.mu.Lock()
	fn := s.after[op]
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Store) failure(op string) error {
	return s.failures[op]
}

// AddExam stores a copy of e and returns its id, generating one when unset.
func (s *Store) AddExam(e model.Exam) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.State == "" {
		e.State = model.ExamStateDraft
	}
	if _, ok := s.exams[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.exams[e.ID] = &e
	return e.ID
}

// UpdateExam applies fn to the stored exam.
func (s *Store) UpdateExam(id uuid.UUID, fn func(e *model.Exam)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.exams[id]; ok {
		fn(e)
	}
}

// Exam returns a copy of the stored exam.
func (s *Store) Exam(id uuid.UUID) model.Exam {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.exams[id]; ok {
		return *e
	}
	return model.Exam{}
}

// SetWizard replaces the wizard relations of an exam. Nil slices are
// stored as empty.
func (s *Store) SetWizard(examID uuid.UUID, w model.Wizard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subTests[examID] = append([]model.SubTest{}, w.SubTests...)
	s.tracks[examID] = append([]model.Track{}, w.Tracks...)
	s.assignments[examID] = append([]model.QuestionAssignment{}, w.Assignments...)
}

// StartAttempt adds an IN_PROGRESS attempt regardless of the exam state,
// the way a request racing a finalize would.
func (s *Store) StartAttempt(examID uuid.UUID, examineeID int64, startedAt string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &model.Attempt{
		ID:         uuid.New(),
		ExamID:     examID,
		ExamineeID: examineeID,
		State:      model.AttemptStateInProgress,
		StartedAt:  startedAt,
	}
	s.attempts = append(s.attempts, a)
	return a.ID
}

// Attempts returns copies of the attempts of an exam.
func (s *Store) Attempts(examID uuid.UUID) []model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Attempt
	for _, a := range s.attempts {
		if a.ExamID == examID {
			out = append(out, *a)
		}
	}
	return out
}

// Writes returns the number of committed publish and finalize writes.
func (s *Store) Writes() (published, finalized int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishWrites, s.finalizeWrites
}

// GetByID implements service.LifecycleStore.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetByID"); err != nil {
		return nil, err
	}
	e, ok := s.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ListPublishCandidates implements service.LifecycleStore.
func (s *Store) ListPublishCandidates(_ context.Context) ([]uuid.UUID, error) {
	return s.listIDs("ListPublishCandidates", func(e *model.Exam) bool {
		return e.State == model.ExamStateDraft && e.ValidFrom != nil
	})
}

// ListFinalizeCandidates implements service.LifecycleStore.
func (s *Store) ListFinalizeCandidates(_ context.Context) ([]uuid.UUID, error) {
	return s.listIDs("ListFinalizeCandidates", func(e *model.Exam) bool {
		return e.State == model.ExamStatePublished && e.ValidUntil != nil
	})
}

// ListFinalizedWithOpenAttempts implements service.LifecycleStore.
func (s *Store) ListFinalizedWithOpenAttempts(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	open := make(map[uuid.UUID]bool)
	for _, a := range s.attempts {
		if a.State == model.AttemptStateInProgress {
			open[a.ExamID] = true
		}
	}
	s.mu.Unlock()

	return s.listIDs("ListFinalizedWithOpenAttempts", func(e *model.Exam) bool {
		return e.State == model.ExamStateFinalized && open[e.ID]
	})
}

func (s *Store) listIDs(op string, keep func(e *model.Exam) bool) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(op); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, id := range s.order {
		if e, ok := s.exams[id]; ok && keep(e) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// UpdateWizardStep implements service.LifecycleStore.
func (s *Store) UpdateWizardStep(_ context.Context, id uuid.UUID, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpdateWizardStep"); err != nil {
		return err
	}
	e, ok := s.exams[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.WizardStep = step
	return nil
}

// ListSubTests implements repository.WizardReader.
func (s *Store) ListSubTests(_ context.Context, examID uuid.UUID) ([]model.SubTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListSubTests"); err != nil {
		return nil, err
	}
	return append([]model.SubTest{}, s.subTests[examID]...), nil
}

// ListTracks implements repository.WizardReader.
func (s *Store) ListTracks(_ context.Context, examID uuid.UUID) ([]model.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListTracks"); err != nil {
		return nil, err
	}
	out := make([]model.Track, 0, len(s.tracks[examID]))
	for _, t := range s.tracks[examID] {
		t.Rules = append([]model.ScoringRule{}, t.Rules...)
		out = append(out, t)
	}
	return out, nil
}

// ListQuestionAssignments implements repository.WizardReader.
func (s *Store) ListQuestionAssignments(_ context.Context, examID uuid.UUID) ([]model.QuestionAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListQuestionAssignments"); err != nil {
		return nil, err
	}
	return append([]model.QuestionAssignment{}, s.assignments[examID]...), nil
}

type snapshot struct {
	exams          map[uuid.UUID]model.Exam
	attempts       []model.Attempt
	publishWrites  int
	finalizeWrites int
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		exams:          make(map[uuid.UUID]model.Exam, len(s.exams)),
		attempts:       make([]model.Attempt, 0, len(s.attempts)),
		publishWrites:  s.publishWrites,
		finalizeWrites: s.finalizeWrites,
	}
	for id, e := range s.exams {
		snap.exams[id] = *e
	}
	for _, a := range s.attempts {
		snap.attempts = append(snap.attempts, *a)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range snap.exams {
		cp := e
		s.exams[id] = &cp
	}
	// Attempts started outside the transaction are kept.
	byID := make(map[uuid.UUID]model.Attempt, len(snap.attempts))
	for _, a := range snap.attempts {
		byID[a.ID] = a
	}
	for i, a := range s.attempts {
		if old, ok := byID[a.ID]; ok {
			cp := old
			s.attempts[i] = &cp
		}
	}
	s.publishWrites = snap.publishWrites
	s.finalizeWrites = snap.finalizeWrites
}

// RunInTx implements service.LifecycleStore. Everything fn changed through
// tx is undone when fn returns an error or panics.
func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.ExamTx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
			err = fmt.Errorf("run in tx: %w", err)
		}
	}()

	return fn(&tx{Store: s})
}

type tx struct {
	*Store
}

func (t *tx) LockByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	if err := t.check("LockByID"); err != nil {
		return nil, err
	}
	return t.GetByID(ctx, id)
}

func (t *tx) MarkPublished(_ context.Context, id uuid.UUID, at string) error {
	return t.advance("MarkPublished", id, model.ExamStateDraft, func(e *model.Exam) {
		e.State = model.ExamStatePublished
		e.PublishedAt = &at
		t.publishWrites++
	})
}

func (t *tx) MarkFinalized(_ context.Context, id uuid.UUID, at string) error {
	return t.advance("MarkFinalized", id, model.ExamStatePublished, func(e *model.Exam) {
		e.State = model.ExamStateFinalized
		e.FinalizedAt = &at
		t.finalizeWrites++
	})
}

func (t *tx) advance(op string, id uuid.UUID, from model.ExamState, apply func(e *model.Exam)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure(op); err != nil {
		return err
	}
	e, ok := t.exams[id]
	if !ok || e.State != from {
		return repository.ErrStaleState
	}
	apply(e)
	return nil
}

func (t *tx) CloseInProgress(ctx context.Context, examID uuid.UUID, endedAt string) (int64, error) {
	defer t.runAfter("CloseInProgress")
	return t.closeInProgress(ctx, examID, endedAt)
}

func (t *tx) closeInProgress(_ context.Context, examID uuid.UUID, endedAt string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("CloseInProgress"); err != nil {
		return 0, err
	}
	var n int64
	for _, a := range t.attempts {
		if a.ExamID == examID && a.State == model.AttemptStateInProgress {
			a.State = model.AttemptStateSubmitted
			end := endedAt
			a.EndedAt = &end
			n++
		}
	}
	return n, nil
}

func (t *tx) CountInProgress(_ context.Context, examID uuid.UUID) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("CountInProgress"); err != nil {
		return 0, err
	}
	var n int64
	for _, a := range t.attempts {
		if a.ExamID == examID && a.State == model.AttemptStateInProgress {
			n++
		}
	}
	return n, nil
}

func (t *tx) check(op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure(op)
}
