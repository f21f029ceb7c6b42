package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lifecycle/internal/model"
)

const examColumns = `id, code, title, description, time_limit_minutes, access_mode, state,
	wizard_step, valid_from, valid_until, published_at, finalized_at, created_at, updated_at`

// ExamRepository handles exam data access.
type ExamRepository struct {
	db DBTX
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(db DBTX) *ExamRepository {
	return &ExamRepository{db: db}
}

func scanExam(row rowScanner) (*model.Exam, error) {
	e := &model.Exam{}
	var accessMode *string
	err := row.Scan(&e.ID, &e.Code, &e.Title, &e.Description, &e.TimeLimitMinutes, &accessMode, &e.State,
		&e.WizardStep, &e.ValidFrom, &e.ValidUntil, &e.PublishedAt, &e.FinalizedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if accessMode != nil {
		e.AccessMode = model.AccessMode(*accessMode)
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := scanExam(r.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// LockByID retrieves an exam and locks its row until the surrounding
// transaction ends. Concurrent lockers wait and then read the committed state.
func (r *ExamRepository) LockByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := scanExam(r.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// ListPublishCandidates returns DRAFT exams with valid_from set.
func (r *ExamRepository) ListPublishCandidates(ctx context.Context) ([]uuid.UUID, error) {
	return r.listIDs(ctx,
		`SELECT id FROM exams
		 WHERE state = $1 AND valid_from IS NOT NULL
		 ORDER BY valid_from, id`, model.ExamStateDraft)
}

// ListFinalizeCandidates returns PUBLISHED exams with valid_until set.
func (r *ExamRepository) ListFinalizeCandidates(ctx context.Context) ([]uuid.UUID, error) {
	return r.listIDs(ctx,
		`SELECT id FROM exams
		 WHERE state = $1 AND valid_until IS NOT NULL
		 ORDER BY valid_until, id`, model.ExamStatePublished)
}

// ListFinalizedWithOpenAttempts returns FINALIZED exams that still own at
// least one IN_PROGRESS attempt.
func (r *ExamRepository) ListFinalizedWithOpenAttempts(ctx context.Context) ([]uuid.UUID, error) {
	return r.listIDs(ctx,
		`SELECT DISTINCT e.id FROM exams e
		 JOIN attempts a ON a.exam_id = e.id
		 WHERE e.state = $1 AND a.state = $2`,
		model.ExamStateFinalized, model.AttemptStateInProgress)
}

func (r *ExamRepository) listIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkPublished moves a DRAFT exam to PUBLISHED. The state guard in the
// WHERE clause makes a stale caller fail with ErrStaleState instead of
// overwriting a newer state.
func (r *ExamRepository) MarkPublished(ctx context.Context, id uuid.UUID, at string) error {
	return r.advance(ctx,
		`UPDATE exams SET state = $1, published_at = $2, updated_at = NOW()
		 WHERE id = $3 AND state = $4`,
		model.ExamStatePublished, at, id, model.ExamStateDraft)
}

// MarkFinalized moves a PUBLISHED exam to FINALIZED.
func (r *ExamRepository) MarkFinalized(ctx context.Context, id uuid.UUID, at string) error {
	return r.advance(ctx,
		`UPDATE exams SET state = $1, finalized_at = $2, updated_at = NOW()
		 WHERE id = $3 AND state = $4`,
		model.ExamStateFinalized, at, id, model.ExamStatePublished)
}

func (r *ExamRepository) advance(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update exam state: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleState
	}
	return nil
}

// UpdateWizardStep records the last completed wizard step.
func (r *ExamRepository) UpdateWizardStep(ctx context.Context, id uuid.UUID, step int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exams SET wizard_step = $1, updated_at = NOW() WHERE id = $2`,
		step, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
