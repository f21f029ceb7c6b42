package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lifecycle/internal/model"
)

// WizardReader loads the wizard-step relations of an exam.
type WizardReader interface {
	ListSubTests(ctx context.Context, examID uuid.UUID) ([]model.SubTest, error)
	ListTracks(ctx context.Context, examID uuid.UUID) ([]model.Track, error)
	ListQuestionAssignments(ctx context.Context, examID uuid.UUID) ([]model.QuestionAssignment, error)
}

// ExamTx is the unit of work handed to RunInTx callbacks. Everything done
// through it commits or rolls back together.
type ExamTx interface {
	WizardReader
	LockByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at string) error
	MarkFinalized(ctx context.Context, id uuid.UUID, at string) error
	CloseInProgress(ctx context.Context, examID uuid.UUID, endedAt string) (int64, error)
	CountInProgress(ctx context.Context, examID uuid.UUID) (int64, error)
}

// Store is the PostgreSQL-backed lifecycle store.
type Store struct {
	*ExamRepository
	*WizardRepository
	*AttemptRepository
	pool *pgxpool.Pool
}

// NewStore creates a new Store on top of pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		ExamRepository:    NewExamRepository(pool),
		WizardRepository:  NewWizardRepository(pool),
		AttemptRepository: NewAttemptRepository(pool),
		pool:              pool,
	}
}

type txStore struct {
	*ExamRepository
	*WizardRepository
	*AttemptRepository
}

// RunInTx runs fn in one transaction. fn returning an error, or panicking,
// rolls back everything it did.
func (s *Store) RunInTx(ctx context.Context, fn func(tx ExamTx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&txStore{
			ExamRepository:    NewExamRepository(tx),
			WizardRepository:  NewWizardRepository(tx),
			AttemptRepository: NewAttemptRepository(tx),
		})
	})
	if err != nil {
		return fmt.Errorf("run in tx: %w", err)
	}
	return nil
}
