package orchestration

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/agents"
	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/middleware"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// Handler serves the orchestration routes.
type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// Auth bundles the middlewares guarding the routes.
type Auth struct {
	User           gin.HandlerFunc
	Internal       gin.HandlerFunc
	UserOrInternal gin.HandlerFunc
}

// RegisterRoutes mounts the routes under RoutePrefix.
func (h *Handler) RegisterRoutes(r gin.IRouter, auth Auth) {
	g := r.Group(RoutePrefix)
	g.POST("/orchestrate/start", auth.User, h.Start)
	g.POST("/orchestrate/step", auth.Internal, h.Step)
	g.POST("/orchestrate/check-parallel-completion", auth.Internal, h.CheckParallel)
	g.POST("/agents/:agentId", auth.UserOrInternal, h.RunAgent)
	g.GET("/jobs/:jobId", auth.User, h.GetJob)
	g.POST("/jobs/:jobId/edit", auth.User, h.Edit)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tcc.ErrNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, middleware.CodeNotFound, "job not found")
	case errors.Is(err, ErrForbidden):
		middleware.AbortWithError(c, http.StatusForbidden, middleware.CodeForbidden, "not authorized for this job")
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, agents.ErrUnknownAgent):
		middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeBadRequest, err.Error())
	case errors.Is(err, ErrStepMismatch), errors.Is(err, ErrJobFailed), errors.Is(err, ErrJobNotEditable):
		middleware.AbortWithError(c, http.StatusConflict, middleware.CodeConflict, err.Error())
	case errors.Is(err, ErrAgentFailed):
		middleware.AbortWithError(c, http.StatusInternalServerError, middleware.CodeInternal, err.Error())
	default:
		logging.L().Error("orchestration request failed", zap.String("path", c.FullPath()), zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, middleware.CodeInternal, "orchestration request failed")
	}
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// Start creates a job and returns 202 while the pipeline runs.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if !bindJSON(c, &req) {
		return
	}
	userID, _ := middleware.GetUserID(c)

	t, err := h.orch.Start(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"jobId":       t.JobID,
		"currentStep": t.CurrentOrchestrationStep,
		"tcc":         t,
	})
}

type jobBody struct {
	JobID string `json:"jobId" binding:"required"`
}

// Step dispatches the current step of a job.
func (h *Handler) Step(c *gin.Context) {
	var req jobBody
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.orch.RunStep(c.Request.Context(), req.JobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"jobId":       res.JobID,
		"currentStep": res.Step,
		"dispatched":  res.Dispatched,
	})
}

// CheckParallel advances a job past the design group when it is done.
func (h *Handler) CheckParallel(c *gin.Context) {
	var req jobBody
	if !bindJSON(c, &req) {
		return
	}
	status, err := h.orch.CheckParallel(c.Request.Context(), req.JobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"jobId":       status.JobID,
		"complete":    status.Complete,
		"advanced":    status.Advanced,
		"missing":     status.Missing,
		"currentStep": status.Step,
	})
}

type agentBody struct {
	JobID          string `json:"jobId" binding:"required"`
	SelectedModel  string `json:"selectedModel"`
	IsIsolatedTest bool   `json:"isIsolatedTest"`
}

// RunAgent runs one agent. User calls are limited to the caller's jobs.
func (h *Handler) RunAgent(c *gin.Context) {
	var req agentBody
	if !bindJSON(c, &req) {
		return
	}
	opts := AgentOptions{Model: req.SelectedModel, IsolatedTest: req.IsIsolatedTest}
	if !middleware.IsInternal(c) {
		opts.UserID, _ = middleware.GetUserID(c)
	}

	agentID := tcc.AgentID(c.Param("agentId"))
	res, err := h.orch.RunAgent(c.Request.Context(), req.JobID, agentID, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobId":   req.JobID,
		"result":  res,
	})
}

// GetJob returns the caller's job context.
func (h *Handler) GetJob(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	t, err := h.orch.Job(c.Request.Context(), c.Param("jobId"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tcc": t})
}

type editBody struct {
	Instructions []tcc.EditInstruction `json:"instructions" binding:"required,min=1"`
}

// Edit restarts a completed job with new instructions.
func (h *Handler) Edit(c *gin.Context) {
	var req editBody
	if !bindJSON(c, &req) {
		return
	}
	userID, _ := middleware.GetUserID(c)

	t, err := h.orch.Edit(c.Request.Context(), c.Param("jobId"), userID, req.Instructions)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"jobId":       t.JobID,
		"currentStep": t.CurrentOrchestrationStep,
	})
}
