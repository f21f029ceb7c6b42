package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-lifecycle/internal/middleware"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/response"
	"github.com/stemsi/exstem-lifecycle/internal/service"
	"github.com/stemsi/exstem-lifecycle/internal/validator"
)

// ExamHandler handles single-exam lifecycle endpoints.
type ExamHandler struct {
	examService *service.ExamService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService) *ExamHandler {
	return &ExamHandler{examService: examService}
}

// GetExam godoc
// GET /api/v1/admin/exams/:id
// Returns the exam after bringing its state up to date with the clock.
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		failLifecycle(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// GetReadiness godoc
// GET /api/v1/admin/exams/:id/readiness
// Returns the six wizard step flags and whether the exam can be published.
func (h *ExamHandler) GetReadiness(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, readiness, err := h.examService.Readiness(c.Request.Context(), examID)
	if err != nil {
		failLifecycle(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"exam_id":     exam.ID,
		"state":       exam.State,
		"wizard_step": exam.WizardStep,
		"readiness":   readiness,
	})
}

// ChangeState godoc
// PUT /api/v1/admin/exams/:id/state
// Manually moves an exam one step forward, ignoring its validity dates.
// Publishing still requires a complete wizard.
func (h *ExamHandler) ChangeState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ChangeStateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, res, err := h.examService.ChangeState(c.Request.Context(), examID, req.State, claims.Actor())
	if err != nil {
		failLifecycle(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam, "transition": res})
}

// failLifecycle maps service errors to API error responses.
func failLifecycle(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrInvalidTransition):
		response.Fail(c, http.StatusConflict, response.ErrInvalidTransition)
	case errors.Is(err, service.ErrExamIncomplete):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrExamIncomplete)
	case errors.Is(err, service.ErrInvalidTargetState):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
