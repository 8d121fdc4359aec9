package producttools

import (
	"context"
	"fmt"

	"github.com/lmnhd/keyvex-sub008/internal/artifacts"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
	"github.com/lmnhd/keyvex-sub008/pkg/models"
)

// Publisher stores the tools the pipeline finalizes.
type Publisher struct {
	repo    *Repository
	storage artifacts.Storage
}

// NewPublisher creates a publisher. A nil storage skips bundle uploads.
func NewPublisher(repo *Repository, storage artifacts.Storage) *Publisher {
	return &Publisher{repo: repo, storage: storage}
}

// Publish saves def for userID, uploads its bundle and links it to jobID.
func (p *Publisher) Publish(ctx context.Context, def *tcc.ProductToolDefinition, userID, jobID string) (*models.ProductTool, error) {
	tool, err := p.repo.Save(ctx, def, userID)
	if err != nil {
		return nil, err
	}

	var keys []string
	if p.storage != nil {
		bundle, err := artifacts.UploadBundle(ctx, p.storage, tool.Definition)
		if err != nil {
			return nil, fmt.Errorf("upload tool bundle: %w", err)
		}
		keys = bundle.Keys
	}

	if err := p.repo.SetJob(ctx, tool.ID, jobID, keys); err != nil {
		return nil, err
	}
	tool.JobID = jobID
	tool.BundleKeys = keys
	return tool, nil
}
