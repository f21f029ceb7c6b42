package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lifecycle/internal/model"
)

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	db DBTX
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db DBTX) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// CloseInProgress submits every IN_PROGRESS attempt of an exam, stamping
// ended_at, and returns how many were closed. Running it again closes nothing.
func (r *AttemptRepository) CloseInProgress(ctx context.Context, examID uuid.UUID, endedAt string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE attempts
		 SET state = $1, ended_at = $2
		 WHERE exam_id = $3 AND state = $4`,
		model.AttemptStateSubmitted, endedAt, examID, model.AttemptStateInProgress)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountInProgress counts the exam's IN_PROGRESS attempts.
func (r *AttemptRepository) CountInProgress(ctx context.Context, examID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE exam_id = $1 AND state = $2`,
		examID, model.AttemptStateInProgress,
	).Scan(&n)
	return n, err
}
