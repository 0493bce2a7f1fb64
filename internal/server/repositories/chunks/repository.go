// Package chunks persists the ordered chunk list of each file.
package chunks

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, chunk *models.Chunk) error
	ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error)
	Count(ctx context.Context, fileID string) (int, error)
	DeleteByFile(ctx context.Context, fileID string) (int64, error)
}
