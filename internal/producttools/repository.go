// Package producttools stores finalized tool definitions and serves the
// dashboard CRUD routes and the public tool route.
package producttools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lmnhd/keyvex-sub008/internal/cache"
	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
	"github.com/lmnhd/keyvex-sub008/pkg/models"
)

var (
	ErrNotFound          = errors.New("product tool not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTool       = errors.New("invalid product tool")
	ErrSlugTaken         = errors.New("slug already in use")
	ErrForbidden         = errors.New("product tool belongs to another user")
)

// transitions lists the allowed status changes.
var transitions = map[string][]string{
	models.ToolStatusDraft:     {models.ToolStatusPublished},
	models.ToolStatusPublished: {models.ToolStatusArchived, models.ToolStatusDraft},
	models.ToolStatusArchived:  {models.ToolStatusDraft},
}

// ValidStatus reports whether s is a lifecycle status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a tool may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PaginationInfo describes a page of results.
type PaginationInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

func paginationInfo(page, limit int, total int64) PaginationInfo {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return PaginationInfo{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// ListResult is one page of a user's tools.
type ListResult struct {
	Tools      []models.ProductTool `json:"tools"`
	Pagination PaginationInfo       `json:"pagination"`
}

// Repository persists product tools with gorm. Listings and published tools
// are cached when a cache is configured.
type Repository struct {
	db    *gorm.DB
	cache *cache.ToolCache
}

// NewRepository creates a repository. tc may be nil.
func NewRepository(db *gorm.DB, tc *cache.ToolCache) *Repository {
	return &Repository{db: db, cache: tc}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// List returns a page of the user's tools, newest first. An empty status
// lists every status.
func (r *Repository) List(ctx context.Context, userID, status string, page, limit int) (*ListResult, error) {
	if status != "" && !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	page, limit = normalizePage(page, limit)

	load := func() (*ListResult, error) {
		owned := func(tx *gorm.DB) *gorm.DB {
			tx = tx.Where("user_id = ?", userID)
			if status != "" {
				tx = tx.Where("status = ?", status)
			}
			return tx
		}
		base := r.db.WithContext(ctx)

		var total int64
		if err := base.Model(&models.ProductTool{}).Scopes(owned).Count(&total).Error; err != nil {
			return nil, fmt.Errorf("count product tools: %w", err)
		}
		tools := []models.ProductTool{}
		if err := base.Scopes(owned).Order("updated_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&tools).Error; err != nil {
			return nil, fmt.Errorf("list product tools: %w", err)
		}
		return &ListResult{Tools: tools, Pagination: paginationInfo(page, limit, total)}, nil
	}

	if r.cache == nil {
		return load()
	}
	return cache.GetOrLoadList(ctx, r.cache, userID, status, page, limit, load)
}

// Get returns the tool with id.
func (r *Repository) Get(ctx context.Context, id string) (*models.ProductTool, error) {
	var tool models.ProductTool
	err := r.db.WithContext(ctx).First(&tool, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product tool: %w", err)
	}
	return &tool, nil
}

// GetBySlug returns the tool with slug in any status.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.ProductTool, error) {
	var tool models.ProductTool
	err := r.db.WithContext(ctx).First(&tool, "slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("get product tool by slug: %w", err)
	}
	return &tool, nil
}

// GetPublished returns a published tool by slug, served from the cache when
// possible.
func (r *Repository) GetPublished(ctx context.Context, slug string) (*models.ProductTool, error) {
	if r.cache != nil {
		var cached models.ProductTool
		if err := r.cache.GetBySlug(ctx, slug, &cached); err == nil {
			return &cached, nil
		}
	}

	tool, err := r.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !tool.IsPublished() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if r.cache != nil {
		if err := r.cache.SetBySlug(ctx, slug, tool); err != nil {
			logging.L().Debug("cache published tool", zap.String("slug", slug), zap.Error(err))
		}
	}
	return tool, nil
}

// Save creates or updates the tool described by def for userID. Updates keep
// the stored status; statuses change only through UpdateStatus.
func (r *Repository) Save(ctx context.Context, def *tcc.ProductToolDefinition, userID string) (*models.ProductTool, error) {
	if def == nil || def.ID == "" || def.Slug == "" {
		return nil, fmt.Errorf("%w: id and slug are required", ErrInvalidTool)
	}

	var (
		tool    models.ProductTool
		oldSlug string
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var clash int64
		if err := tx.Unscoped().Model(&models.ProductTool{}).
			Where("slug = ? AND id <> ?", def.Slug, def.ID).Count(&clash).Error; err != nil {
			return err
		}
		if clash > 0 {
			return fmt.Errorf("%w: %s", ErrSlugTaken, def.Slug)
		}

		// no row yet means create
		found := tx.Where("id = ?", def.ID).Limit(1).Find(&tool)
		if found.Error != nil {
			return found.Error
		}
		if found.RowsAffected == 0 {
			tool = models.ProductTool{ID: def.ID, UserID: userID, Status: models.ToolStatusDraft}
			if ValidStatus(def.Status) {
				tool.Status = def.Status
			}
			applyDefinition(&tool, def)
			return tx.Create(&tool).Error
		}

		if tool.UserID != userID {
			return ErrForbidden
		}
		oldSlug = tool.Slug
		applyDefinition(&tool, def)
		return tx.Save(&tool).Error
	})
	if err != nil {
		if errors.Is(err, ErrSlugTaken) || errors.Is(err, ErrForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("save product tool: %w", err)
	}

	r.invalidate(ctx, userID, tool.Slug, oldSlug)
	return &tool, nil
}

func applyDefinition(tool *models.ProductTool, def *tcc.ProductToolDefinition) {
	stored := *def
	stored.ID = tool.ID
	stored.Status = tool.Status
	if stored.Version == "" {
		stored.Version = tool.Version
	}
	if stored.Version == "" {
		stored.Version = "1.0.0"
	}
	if stored.CreatedBy == "" {
		stored.CreatedBy = tool.UserID
	}
	stored.UpdatedAt = time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}

	tool.Slug = stored.Slug
	tool.Title = stored.Metadata.Title
	tool.Description = stored.Metadata.Description
	tool.Type = stored.Metadata.Type
	tool.Version = stored.Version
	tool.Definition = &stored
}

// SetJob links a tool to the job that produced it and records its bundle.
func (r *Repository) SetJob(ctx context.Context, id, jobID string, bundleKeys []string) error {
	res := r.db.WithContext(ctx).Model(&models.ProductTool{ID: id}).
		Updates(models.ProductTool{JobID: jobID, BundleKeys: bundleKeys})
	if res.Error != nil {
		return fmt.Errorf("link product tool job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// UpdateStatus moves the tool to status when the transition is allowed.
// Setting the current status again is a no-op.
func (r *Repository) UpdateStatus(ctx context.Context, id, status string) (*models.ProductTool, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	var tool models.ProductTool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&tool, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if tool.Status == status {
			return nil
		}
		if !CanTransition(tool.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tool.Status, status)
		}

		tool.Status = status
		if tool.Definition != nil {
			def := *tool.Definition
			def.Status = status
			def.UpdatedAt = time.Now().UTC()
			tool.Definition = &def
		}
		return tx.Save(&tool).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("update product tool status: %w", err)
	}

	r.invalidate(ctx, tool.UserID, tool.Slug)
	return &tool, nil
}

// Delete soft-deletes the tool.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tool, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Delete(&models.ProductTool{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete product tool: %w", err)
	}
	r.invalidate(ctx, tool.UserID, tool.Slug)
	return nil
}

func (r *Repository) invalidate(ctx context.Context, userID string, slugs ...string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		logging.L().Warn("invalidate tool listings", zap.String("user_id", userID), zap.Error(err))
	}
	for _, slug := range slugs {
		if err := r.cache.InvalidateSlug(ctx, slug); err != nil {
			logging.L().Warn("invalidate published tool", zap.String("slug", slug), zap.Error(err))
		}
	}
}
