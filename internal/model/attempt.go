package model

import "github.com/google/uuid"

// AttemptState enumerates attempt states.
type AttemptState string

const (
	AttemptStateInProgress AttemptState = "IN_PROGRESS"
	AttemptStateSubmitted  AttemptState = "SUBMITTED"
)

// Attempt represents an examinee's attempt at an exam under a chosen track.
// StartedAt and EndedAt are civil timestamps.
type Attempt struct {
	ID         uuid.UUID    `json:"id"`
	ExamID     uuid.UUID    `json:"exam_id"`
	ExamineeID int64        `json:"examinee_id"`
	TrackID    int64        `json:"track_id"`
	State      AttemptState `json:"state"`
	StartedAt  string       `json:"started_at"`
	EndedAt    *string      `json:"ended_at,omitempty"`
	Score      *float64     `json:"score,omitempty"`
}
