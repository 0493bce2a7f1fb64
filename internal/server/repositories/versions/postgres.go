package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create appends the next version of the file. The number is computed in
// the INSERT (max + 1, starting at 1) and written back into v; the primary
// key rejects a concurrent writer that computed the same number.
func (r *PostgresRepository) Create(ctx context.Context, v *models.Version) error {
	query := `
		INSERT INTO file_versions (file_id, version_number, label, created_by)
		SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3
		FROM file_versions WHERE file_id = $1
		RETURNING version_number, created_at`

	if err := r.db.QueryRowContext(ctx, query, v.FileID, v.Label, v.CreatedBy).Scan(&v.Number, &v.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByFile returns versions in ascending order.
func (r *PostgresRepository) ListByFile(ctx context.Context, fileID string) ([]*models.Version, error) {
	query := `SELECT file_id, version_number, label, created_by, created_at
		FROM file_versions WHERE file_id = $1 ORDER BY version_number`

	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select versions: %w", err)
	}
	defer rows.Close()

	var result []*models.Version
	for rows.Next() {
		var v models.Version
		if err := rows.Scan(&v.FileID, &v.Number, &v.Label, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Latest returns the current version or common.ErrNotFound when there is none.
func (r *PostgresRepository) Latest(ctx context.Context, fileID string) (*models.Version, error) {
	query := `SELECT file_id, version_number, label, created_by, created_at
		FROM file_versions WHERE file_id = $1 ORDER BY version_number DESC LIMIT 1`

	var v models.Version
	err := r.db.QueryRowContext(ctx, query, fileID).Scan(&v.FileID, &v.Number, &v.Label, &v.CreatedBy, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("versions of %s: %w", fileID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select version: %w", err)
	}
	return &v, nil
}
