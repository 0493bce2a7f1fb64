// Package files persists File records of the manifest store.
package files

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.File) error
	Get(ctx context.Context, id string) (*models.File, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.File, error)
	MarkCompleted(ctx context.Context, id string, chunkCount int) error
	MarkFailed(ctx context.Context, id string) error
	UpdateSize(ctx context.Context, id string, size int64, checksum string) error
	UpdateMetadata(ctx context.Context, id, filename, contentType string) (*models.File, error)
	Delete(ctx context.Context, id string) error
}
