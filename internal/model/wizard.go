package model

import "github.com/google/uuid"

// SubTest is a timed section of an exam.
type SubTest struct {
	ID               int64     `json:"id"`
	ExamID           uuid.UUID `json:"exam_id"`
	Name             string    `json:"name"`
	TimeLimitMinutes int       `json:"time_limit_minutes"`
	Position         int       `json:"position"`
}

// Track is an application track (postulación) an examinee applies to.
// It groups the scoring rules used to grade the examinee's sub-tests.
type Track struct {
	ID     int64         `json:"id"`
	ExamID uuid.UUID     `json:"exam_id"`
	Name   string        `json:"name"`
	Rules  []ScoringRule `json:"rules"`
}

// ScoringRule defines how answers to one sub-test count for one track.
type ScoringRule struct {
	ID              int64    `json:"id"`
	TrackID         int64    `json:"track_id"`
	SubTestID       int64    `json:"sub_test_id"`
	CorrectPoints   float64  `json:"correct_points"`
	IncorrectPoints float64  `json:"incorrect_points"`
	BlankPoints     float64  `json:"blank_points"`
	MinPassingScore *float64 `json:"min_passing_score,omitempty"`
}

// QuestionAssignment is one row of the exam-question association.
// SubTestID is nil for questions not yet placed in a sub-test.
type QuestionAssignment struct {
	ExamID     uuid.UUID `json:"exam_id"`
	QuestionID int64     `json:"question_id"`
	SubTestID  *int64    `json:"sub_test_id,omitempty"`
}

// Wizard holds the wizard-step relations of one exam as read-only input to
// the completeness check. A nil slice means the relation was not loaded;
// an empty, non-nil slice means it was loaded and is empty.
type Wizard struct {
	SubTests    []SubTest
	Tracks      []Track
	Assignments []QuestionAssignment
}
