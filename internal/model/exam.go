package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamState enumerates the lifecycle states of an exam.
// States only move forward: DRAFT → PUBLISHED → FINALIZED.
type ExamState string

const (
	ExamStateDraft     ExamState = "DRAFT"
	ExamStatePublished ExamState = "PUBLISHED"
	ExamStateFinalized ExamState = "FINALIZED"
)

// Rank orders states so forward-only moves can be checked. Unknown states rank -1.
func (s ExamState) Rank() int {
	switch s {
	case ExamStateDraft:
		return 0
	case ExamStatePublished:
		return 1
	case ExamStateFinalized:
		return 2
	default:
		return -1
	}
}

// AccessMode controls who may take a published exam.
type AccessMode string

const (
	AccessModePublic  AccessMode = "PUBLIC"
	AccessModePrivate AccessMode = "PRIVATE"
)

// Valid reports whether the access mode has been set to a known value.
func (m AccessMode) Valid() bool {
	return m == AccessModePublic || m == AccessModePrivate
}

// WizardSteps is the number of steps in the exam creation wizard.
const WizardSteps = 6

// Exam represents an exam entity.
//
// ValidFrom, ValidUntil, PublishedAt and FinalizedAt are civil timestamps in
// the fixed "YYYY-MM-DD HH:MM:SS" layout, stored as text.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Code             string     `json:"code"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	AccessMode       AccessMode `json:"access_mode"`
	State            ExamState  `json:"state"`
	WizardStep       int        `json:"wizard_step"`
	ValidFrom        *string    `json:"valid_from,omitempty"`
	ValidUntil       *string    `json:"valid_until,omitempty"`
	PublishedAt      *string    `json:"published_at,omitempty"`
	FinalizedAt      *string    `json:"finalized_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasVigencyDate reports whether either end of the validity window is set.
func (e *Exam) HasVigencyDate() bool {
	return e.ValidFrom != nil || e.ValidUntil != nil
}

// ChangeStateRequest is the payload for the manual state override.
type ChangeStateRequest struct {
	State ExamState `json:"state" binding:"required,lifecycle_target"`
}
