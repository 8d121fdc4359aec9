// Package models holds the persistent gorm models.
package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// Product tool lifecycle states.
const (
	ToolStatusDraft     = "draft"
	ToolStatusPublished = "published"
	ToolStatusArchived  = "archived"
)

// ProductTool is a finalized tool owned by a user.
type ProductTool struct {
	ID        string         `json:"id" gorm:"primarykey;size:64"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Slug        string `json:"slug" gorm:"uniqueIndex;size:191;not null"`
	UserID      string `json:"userId" gorm:"index;size:191;not null"`
	JobID       string `json:"jobId,omitempty" gorm:"index;size:64"`
	Title       string `json:"title" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`
	Type        string `json:"type" gorm:"size:64;index"`
	Status      string `json:"status" gorm:"size:32;index;not null;default:'draft'"`
	Version     string `json:"version" gorm:"size:32;not null"`

	Definition *tcc.ProductToolDefinition `json:"definition" gorm:"serializer:json;type:text"`
	// BundleKeys are the artifact keys of the current version.
	BundleKeys []string `json:"bundleKeys,omitempty" gorm:"serializer:json;type:text"`
}

// TableName pins the table name.
func (ProductTool) TableName() string { return "product_tools" }

// IsPublished reports whether the tool is publicly served.
func (p *ProductTool) IsPublished() bool {
	return p.Status == ToolStatusPublished
}
