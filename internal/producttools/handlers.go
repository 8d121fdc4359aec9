package producttools

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/agents"
	"github.com/lmnhd/keyvex-sub008/internal/artifacts"
	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/middleware"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
	"github.com/lmnhd/keyvex-sub008/pkg/models"
)

// Handler serves the product tool routes.
type Handler struct {
	repo    *Repository
	storage artifacts.Storage
}

// NewHandler creates the handler. storage may be nil.
func NewHandler(repo *Repository, storage artifacts.Storage) *Handler {
	return &Handler{repo: repo, storage: storage}
}

// RegisterRoutes mounts the dashboard routes behind requireAuth and the
// public tool route without it.
func (h *Handler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	tools := r.Group("/api/product-tools", requireAuth)
	tools.GET("", h.List)
	tools.POST("", h.Create)
	tools.GET("/:id", h.Get)
	tools.PUT("/:id", h.Update)
	tools.DELETE("/:id", h.Delete)
	tools.PATCH("/:id/status", h.UpdateStatus)
	tools.GET("/:id/bundle", h.Bundle)

	r.GET("/api/tools/:slug", h.GetPublic)
}

// writeError maps repository errors to the error envelope.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, middleware.CodeNotFound, "product tool not found")
	case errors.Is(err, ErrForbidden):
		middleware.AbortWithError(c, http.StatusForbidden, middleware.CodeForbidden, "not authorized for this tool")
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSlugTaken):
		middleware.AbortWithError(c, http.StatusConflict, middleware.CodeConflict, err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidTool):
		middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeBadRequest, err.Error())
	default:
		logging.L().Error("product tool request failed", zap.String("path", c.FullPath()), zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, middleware.CodeInternal, "product tool request failed")
	}
}

// owned loads the :id tool and checks the caller owns it.
func (h *Handler) owned(c *gin.Context) (*models.ProductTool, bool) {
	tool, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	userID, _ := middleware.GetUserID(c)
	if tool.UserID != userID {
		writeError(c, ErrForbidden)
		return nil, false
	}
	return tool, true
}

// List returns the caller's tools.
func (h *Handler) List(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.repo.List(c.Request.Context(), userID, c.Query("status"), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"tools":      result.Tools,
		"pagination": result.Pagination,
	})
}

func bindDefinition(c *gin.Context) (*tcc.ProductToolDefinition, bool) {
	var def tcc.ProductToolDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeBadRequest, "invalid tool definition: "+err.Error())
		return nil, false
	}
	if strings.TrimSpace(def.Metadata.Title) == "" || strings.TrimSpace(def.ComponentCode) == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeBadRequest, "metadata.title and componentCode are required")
		return nil, false
	}
	return &def, true
}

// Create stores a new tool definition for the caller.
func (h *Handler) Create(c *gin.Context) {
	def, ok := bindDefinition(c)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(c)

	if def.ID == "" {
		def.ID = uuid.NewString()
	} else if _, err := h.repo.Get(c.Request.Context(), def.ID); err == nil {
		middleware.AbortWithError(c, http.StatusConflict, middleware.CodeConflict, "product tool already exists")
		return
	}
	if def.Slug == "" {
		def.Slug = agents.Slugify(def.Metadata.Title) + "-" + agents.ShortSuffix(def.ID)
	}
	def.Status = models.ToolStatusDraft
	def.Metadata.ID = def.ID
	def.Metadata.Slug = def.Slug

	tool, err := h.repo.Save(c.Request.Context(), def, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "tool": tool})
}

// Get returns one of the caller's tools.
func (h *Handler) Get(c *gin.Context) {
	tool, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tool": tool})
}

// Update replaces the definition of one of the caller's tools.
func (h *Handler) Update(c *gin.Context) {
	existing, ok := h.owned(c)
	if !ok {
		return
	}
	def, ok := bindDefinition(c)
	if !ok {
		return
	}
	def.ID = existing.ID
	if def.Slug == "" {
		def.Slug = existing.Slug
	}
	def.Metadata.ID = def.ID
	def.Metadata.Slug = def.Slug

	tool, err := h.repo.Save(c.Request.Context(), def, existing.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tool": tool})
}

// Delete removes one of the caller's tools and its bundle.
func (h *Handler) Delete(c *gin.Context) {
	tool, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), tool.ID); err != nil {
		writeError(c, err)
		return
	}
	if h.storage != nil && len(tool.BundleKeys) > 0 {
		if err := artifacts.DeleteBundle(c.Request.Context(), h.storage, tool.ID, tool.Version); err != nil {
			logging.L().Warn("delete tool bundle", zap.String("tool_id", tool.ID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": tool.ID})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus moves one of the caller's tools through its lifecycle.
func (h *Handler) UpdateStatus(c *gin.Context) {
	existing, ok := h.owned(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeBadRequest, "status is required")
		return
	}

	tool, err := h.repo.UpdateStatus(c.Request.Context(), existing.ID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tool": tool})
}

// Bundle downloads the component source, or the definition with
// ?file=definition. Tools without a stored bundle are served from the
// database copy.
func (h *Handler) Bundle(c *gin.Context) {
	tool, ok := h.owned(c)
	if !ok {
		return
	}

	name, contentType, ext := artifacts.ComponentFile, "text/plain; charset=utf-8", ".tsx"
	if c.Query("file") == "definition" {
		name, contentType, ext = artifacts.DefinitionFile, "application/json", ".json"
	}

	var body bytes.Buffer
	err := artifacts.ErrNotFound
	if h.storage != nil && len(tool.BundleKeys) > 0 {
		err = h.storage.Download(c.Request.Context(), artifacts.BundleKey(tool.ID, tool.Version, name), &body)
	}
	if errors.Is(err, artifacts.ErrNotFound) {
		body.Reset()
		err = fallbackBundle(tool, name, &body)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+tool.Slug+ext+`"`)
	c.Data(http.StatusOK, contentType, body.Bytes())
}

func fallbackBundle(tool *models.ProductTool, name string, w *bytes.Buffer) error {
	if tool.Definition == nil {
		return ErrNotFound
	}
	if name == artifacts.ComponentFile {
		w.WriteString(tool.Definition.ComponentCode)
		return nil
	}
	raw, err := json.MarshalIndent(tool.Definition, "", "  ")
	if err != nil {
		return err
	}
	w.Write(raw)
	return nil
}

// GetPublic serves a published tool by slug without authentication.
func (h *Handler) GetPublic(c *gin.Context) {
	tool, err := h.repo.GetPublished(c.Request.Context(), c.Param("slug"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tool": tool.Definition})
}
