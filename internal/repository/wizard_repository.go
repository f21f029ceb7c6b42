package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lifecycle/internal/model"
)

// WizardRepository reads the wizard-step relations of an exam. It never
// writes; the wizard CRUD layer owns these tables.
type WizardRepository struct {
	db DBTX
}

// NewWizardRepository creates a new WizardRepository.
func NewWizardRepository(db DBTX) *WizardRepository {
	return &WizardRepository{db: db}
}

// ListSubTests retrieves all sub-tests of an exam, ordered by position.
func (r *WizardRepository) ListSubTests(ctx context.Context, examID uuid.UUID) ([]model.SubTest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, exam_id, name, time_limit_minutes, position
		 FROM sub_tests WHERE exam_id = $1
		 ORDER BY position, id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subTests := []model.SubTest{}
	for rows.Next() {
		var s model.SubTest
		if err := rows.Scan(&s.ID, &s.ExamID, &s.Name, &s.TimeLimitMinutes, &s.Position); err != nil {
			return nil, err
		}
		subTests = append(subTests, s)
	}
	return subTests, rows.Err()
}

// ListTracks retrieves all tracks of an exam with their scoring rules.
func (r *WizardRepository) ListTracks(ctx context.Context, examID uuid.UUID) ([]model.Track, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, exam_id, name FROM tracks WHERE exam_id = $1 ORDER BY id`, examID)
	if err != nil {
		return nil, err
	}

	tracks := []model.Track{}
	index := make(map[int64]int)
	for rows.Next() {
		t := model.Track{Rules: []model.ScoringRule{}}
		if err := rows.Scan(&t.ID, &t.ExamID, &t.Name); err != nil {
			rows.Close()
			return nil, err
		}
		index[t.ID] = len(tracks)
		tracks = append(tracks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(tracks) == 0 {
		return tracks, nil
	}

	ruleRows, err := r.db.Query(ctx,
		`SELECT r.id, r.track_id, r.sub_test_id, r.correct_points, r.incorrect_points,
		        r.blank_points, r.min_passing_score
		 FROM scoring_rules r
		 JOIN tracks t ON t.id = r.track_id
		 WHERE t.exam_id = $1
		 ORDER BY r.id`, examID)
	if err != nil {
		return nil, err
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		var sr model.ScoringRule
		if err := ruleRows.Scan(&sr.ID, &sr.TrackID, &sr.SubTestID, &sr.CorrectPoints,
			&sr.IncorrectPoints, &sr.BlankPoints, &sr.MinPassingScore); err != nil {
			return nil, err
		}
		if i, ok := index[sr.TrackID]; ok {
			tracks[i].Rules = append(tracks[i].Rules, sr)
		}
	}
	return tracks, ruleRows.Err()
}

// ListQuestionAssignments retrieves the exam-question association rows.
// sub_test_id is cast to BIGINT so it compares equal to sub_tests.id
// whatever the legacy column type is.
func (r *WizardRepository) ListQuestionAssignments(ctx context.Context, examID uuid.UUID) ([]model.QuestionAssignment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT exam_id, question_id, sub_test_id::bigint
		 FROM exam_questions WHERE exam_id = $1`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assignments := []model.QuestionAssignment{}
	for rows.Next() {
		var a model.QuestionAssignment
		if err := rows.Scan(&a.ExamID, &a.QuestionID, &a.SubTestID); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
