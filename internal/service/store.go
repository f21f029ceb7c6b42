package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/repository"
)

// LifecycleStore is the persistence surface the lifecycle services need.
// *repository.Store satisfies it against PostgreSQL.
type LifecycleStore interface {
	repository.WizardReader
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPublishCandidates(ctx context.Context) ([]uuid.UUID, error)
	ListFinalizeCandidates(ctx context.Context) ([]uuid.UUID, error)
	ListFinalizedWithOpenAttempts(ctx context.Context) ([]uuid.UUID, error)
	UpdateWizardStep(ctx context.Context, id uuid.UUID, step int) error
	RunInTx(ctx context.Context, fn func(tx repository.ExamTx) error) error
}

var _ LifecycleStore = (*repository.Store)(nil)
