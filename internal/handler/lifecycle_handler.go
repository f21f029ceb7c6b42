package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-lifecycle/internal/config"
	"github.com/stemsi/exstem-lifecycle/internal/response"
	"github.com/stemsi/exstem-lifecycle/internal/worker"
)

// LifecycleHandler exposes the operator batch jobs over HTTP.
type LifecycleHandler struct {
	jobs *worker.Jobs
}

// NewLifecycleHandler creates a new LifecycleHandler.
func NewLifecycleHandler(jobs *worker.Jobs) *LifecycleHandler {
	return &LifecycleHandler{jobs: jobs}
}

// ReconcileAll godoc
// POST /api/v1/admin/lifecycle/reconcile
// Publishes and finalizes every exam whose dates say so.
func (h *LifecycleHandler) ReconcileAll(c *gin.Context) {
	h.run(c, config.JobKey.ReconcileAll)
}

// CloseOrphans godoc
// POST /api/v1/admin/lifecycle/close-orphans
// Closes in-progress attempts left behind on finalized exams.
func (h *LifecycleHandler) CloseOrphans(c *gin.Context) {
	h.run(c, config.JobKey.CloseOrphans)
}

func (h *LifecycleHandler) run(c *gin.Context, job string) {
	// The batch keeps going if the operator disconnects.
	out, err := h.jobs.Run(context.WithoutCancel(c.Request.Context()), job)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if !out.OK() {
		response.FailWithData(c, http.StatusInternalServerError, response.ErrBatchFailed, out)
		return
	}
	response.Success(c, http.StatusOK, out)
}
