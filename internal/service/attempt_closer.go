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

// AttemptCloser submits the in-progress attempts of an exam.
type AttemptCloser struct {
	store LifecycleStore
	clock *clock.Clock
	log   zerolog.Logger
}

// NewAttemptCloser creates a new AttemptCloser.
func NewAttemptCloser(store LifecycleStore, clk *clock.Clock, log zerolog.Logger) *AttemptCloser {
	return &AttemptCloser{
		store: store,
		clock: clk,
		log:   log.With().Str("component", "attempt_closer").Logger(),
	}
}

// CloseInProgress submits every IN_PROGRESS attempt of exam inside the
// caller's unit of work and returns how many were closed.
func (c *AttemptCloser) CloseInProgress(ctx context.Context, tx repository.ExamTx, exam *model.Exam) (int64, error) {
	closed, err := tx.CloseInProgress(ctx, exam.ID, c.clock.NowString())
	if err != nil {
		return 0, fmt.Errorf("close attempts: %w", err)
	}
	return closed, nil
}

// CloseForExam closes lingering attempts of an already FINALIZED exam in
// its own unit of work. Exams in any other state are left alone; calling it
// again returns 0.
func (c *AttemptCloser) CloseForExam(ctx context.Context, examID uuid.UUID, trigger Trigger) (int64, error) {
	var closed int64
	err := c.store.RunInTx(ctx, func(tx repository.ExamTx) error {
		exam, err := tx.LockByID(ctx, examID)
		if err != nil {
			return err
		}
		if exam.State != model.ExamStateFinalized {
			return nil
		}
		closed, err = c.CloseInProgress(ctx, tx, exam)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrExamNotFound
		}
		c.log.Error().
			Err(err).
			Str("exam_id", examID.String()).
			Str("trigger", string(trigger)).
			Msg("Failed to close orphaned attempts")
		return 0, err
	}

	if closed > 0 {
		c.log.Info().
			Str("exam_id", examID.String()).
			Str("trigger", string(trigger)).
			Int64("closed_attempts", closed).
			Msg("Closed orphaned attempts of finalized exam")
	}
	return closed, nil
}
