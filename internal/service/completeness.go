package service

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/clock"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/repository"
)

// Wizard field limits checked by step 1 and step 6.
const (
	titleMinLen       = 10
	titleMaxLen       = 255
	descriptionMinLen = 20
	descriptionMaxLen = 50000
	timeLimitMin      = 30
	timeLimitMax      = 600
	maxWindowYears    = 2
)

// Readiness is the per-step completeness vector of an exam.
type Readiness struct {
	Step1       bool `json:"step1"`
	Step2       bool `json:"step2"`
	Step3       bool `json:"step3"`
	Step4       bool `json:"step4"`
	Step5       bool `json:"step5"`
	Step6       bool `json:"step6"`
	Publishable bool `json:"publishable"`
}

// Steps returns the six flags in wizard order.
func (r Readiness) Steps() [model.WizardSteps]bool {
	return [model.WizardSteps]bool{r.Step1, r.Step2, r.Step3, r.Step4, r.Step5, r.Step6}
}

// Complete reports whether all six steps pass.
func (r Readiness) Complete() bool {
	for _, ok := range r.Steps() {
		if !ok {
			return false
		}
	}
	return true
}

// CompletedSteps returns the number of leading steps that pass, i.e. the
// last wizard step an administrator has finished.
func (r Readiness) CompletedSteps() int {
	n := 0
	for _, ok := range r.Steps() {
		if !ok {
			break
		}
		n++
	}
	return n
}

// CompletenessEvaluator decides whether an exam's wizard is complete.
// It only reads.
type CompletenessEvaluator struct {
	clock *clock.Clock
	log   zerolog.Logger
}

// NewCompletenessEvaluator creates a new CompletenessEvaluator.
func NewCompletenessEvaluator(clk *clock.Clock, log zerolog.Logger) *CompletenessEvaluator {
	return &CompletenessEvaluator{
		clock: clk,
		log:   log.With().Str("component", "completeness").Logger(),
	}
}

// Evaluate computes the readiness vector. Relations missing from w (nil
// slices, or a nil w) are loaded through loader; a relation that fails to
// load fails the steps depending on it.
func (e *CompletenessEvaluator) Evaluate(ctx context.Context, loader repository.WizardReader, exam *model.Exam, w *model.Wizard) Readiness {
	wiz := e.hydrate(ctx, loader, exam, w)

	r := Readiness{
		Step1: e.checkGeneral(exam),
		Step2: len(wiz.SubTests) > 0,
		Step3: len(wiz.Tracks) > 0,
		Step4: e.checkScoringRules(wiz),
		Step5: e.checkQuestionCoverage(wiz),
		Step6: e.checkWindow(exam),
	}
	r.Publishable = r.Complete() && exam.State == model.ExamStateDraft
	return r
}

// IsPublishable reports whether exam is DRAFT and passes all six steps.
func (e *CompletenessEvaluator) IsPublishable(ctx context.Context, loader repository.WizardReader, exam *model.Exam, w *model.Wizard) bool {
	return e.Evaluate(ctx, loader, exam, w).Publishable
}

func (e *CompletenessEvaluator) hydrate(ctx context.Context, loader repository.WizardReader, exam *model.Exam, w *model.Wizard) model.Wizard {
	var wiz model.Wizard
	if w != nil {
		wiz = *w
	}
	if loader == nil {
		return wiz
	}

	if wiz.SubTests == nil {
		subTests, err := loader.ListSubTests(ctx, exam.ID)
		if err != nil {
			e.warnLoad(err, exam, "sub_tests")
		} else {
			wiz.SubTests = subTests
		}
	}
	if wiz.Tracks == nil {
		tracks, err := loader.ListTracks(ctx, exam.ID)
		if err != nil {
			e.warnLoad(err, exam, "tracks")
		} else {
			wiz.Tracks = tracks
		}
	}
	if wiz.Assignments == nil {
		assignments, err := loader.ListQuestionAssignments(ctx, exam.ID)
		if err != nil {
			e.warnLoad(err, exam, "exam_questions")
		} else {
			wiz.Assignments = assignments
		}
	}
	return wiz
}

func (e *CompletenessEvaluator) warnLoad(err error, exam *model.Exam, relation string) {
	e.log.Warn().
		Err(err).
		Str("exam_id", exam.ID.String()).
		Str("relation", relation).
		Msg("Failed to load wizard relation, treating step as incomplete")
}

func (e *CompletenessEvaluator) checkGeneral(exam *model.Exam) bool {
	titleLen := utf8.RuneCountInString(exam.Title)
	descLen := utf8.RuneCountInString(exam.Description)

	return exam.Code != "" &&
		titleLen >= titleMinLen && titleLen <= titleMaxLen &&
		descLen >= descriptionMinLen && descLen <= descriptionMaxLen &&
		exam.TimeLimitMinutes >= timeLimitMin && exam.TimeLimitMinutes <= timeLimitMax &&
		exam.AccessMode.Valid()
}

// checkScoringRules requires every track to own a rule that points at a
// sub-test still belonging to the exam. Rules left behind by a deleted
// sub-test do not count.
func (e *CompletenessEvaluator) checkScoringRules(wiz model.Wizard) bool {
	if len(wiz.Tracks) == 0 {
		return false
	}

	live := make(map[int64]struct{}, len(wiz.SubTests))
	for _, st := range wiz.SubTests {
		live[st.ID] = struct{}{}
	}

	for _, t := range wiz.Tracks {
		valid := false
		for _, rule := range t.Rules {
			if _, ok := live[rule.SubTestID]; ok {
				valid = true
				break
			}
		}
		if !valid {
			return false
		}
	}
	return true
}

func (e *CompletenessEvaluator) checkQuestionCoverage(wiz model.Wizard) bool {
	if len(wiz.SubTests) == 0 {
		return false
	}

	perSubTest := make(map[int64]int, len(wiz.SubTests))
	for _, a := range wiz.Assignments {
		if a.SubTestID != nil {
			perSubTest[*a.SubTestID]++
		}
	}

	for _, st := range wiz.SubTests {
		if perSubTest[st.ID] == 0 {
			return false
		}
	}
	return true
}

// checkWindow requires valid_from. valid_until may be left open; when set it
// must fall after valid_from and no more than two years later.
func (e *CompletenessEvaluator) checkWindow(exam *model.Exam) bool {
	from := e.clock.Normalize(exam.ValidFrom)
	if from == nil {
		return false
	}
	if exam.ValidUntil == nil {
		return true
	}
	until := e.clock.Normalize(exam.ValidUntil)
	if until == nil {
		return false
	}
	return e.clock.SpanWithin(*from, *until, maxWindowYears)
}
