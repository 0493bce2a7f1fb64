// Package versions persists per-file version history.
package versions

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, v *models.Version) error
	ListByFile(ctx context.Context, fileID string) ([]*models.Version, error)
	Latest(ctx context.Context, fileID string) (*models.Version, error)
}
