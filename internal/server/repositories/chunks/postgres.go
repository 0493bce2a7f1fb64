package chunks

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create records a stored chunk. Writing the same (file, index) twice
// overwrites the row, so a retried record write is harmless.
func (r *PostgresRepository) Create(ctx context.Context, c *models.Chunk) error {
	query := `
		INSERT INTO file_chunks (file_id, chunk_index, chunk_key, size, hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (file_id, chunk_index)
		DO UPDATE SET chunk_key = EXCLUDED.chunk_key, size = EXCLUDED.size, hash = EXCLUDED.hash
		RETURNING created_at`

	if err := r.db.QueryRowContext(ctx, query, c.FileID, c.Index, c.Key, c.Size, c.Hash).Scan(&c.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByFile returns the chunk records ordered by index.
func (r *PostgresRepository) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	query := `SELECT file_id, chunk_index, chunk_key, size, hash, created_at
		FROM file_chunks WHERE file_id = $1 ORDER BY chunk_index`

	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.FileID, &c.Index, &c.Key, &c.Size, &c.Hash, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Count(ctx context.Context, fileID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_chunks WHERE file_id = $1`, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// DeleteByFile removes every chunk record of the file and returns how many went.
func (r *PostgresRepository) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM file_chunks WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
