// Package shares persists sharing grants. Grantees are matched exactly by
// user id or email.
package shares

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, g *models.Grant) error
	Find(ctx context.Context, fileID, subject, email string) (*models.Grant, error)
	ListByFile(ctx context.Context, fileID string) ([]*models.Grant, error)
	ListForGrantee(ctx context.Context, subject, email string) ([]*models.Grant, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Grant, error)
	Delete(ctx context.Context, fileID, grantee string) error
}
