package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

const fileColumns = `id, filename, content_type, size, chunk_count, checksum, owner_id, owner_email, status, created_at, updated_at`

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var f models.File
	var status string
	if err := s.Scan(&f.ID, &f.Filename, &f.ContentType, &f.Size, &f.ChunkCount, &f.Checksum,
		&f.OwnerID, &f.OwnerEmail, &status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = models.FileStatus(status)
	return &f, nil
}

// Create inserts a new file row; CreatedAt and UpdatedAt are filled from the database.
// Inserting the same id again for the same owner while the upload is still
// running returns the existing row, so a retried insert succeeds. Any other
// id conflict is a validation error.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, filename, content_type, size, chunk_count, checksum, owner_id, owner_email, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET updated_at = files.updated_at
		WHERE files.owner_id = EXCLUDED.owner_id AND files.status = 'uploading'
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		file.ID, file.Filename, file.ContentType, file.Size, file.ChunkCount, file.Checksum,
		file.OwnerID, file.OwnerEmail, string(file.Status),
	).Scan(&file.CreatedAt, &file.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: file %s already exists", common.ErrValidation, file.ID)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the file by id or common.ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// ListByOwner returns the owner's files, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkCompleted moves an uploading file to completed and records its chunk count.
// A file that is not uploading is left untouched and common.ErrNotFound is returned.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, chunkCount int) error {
	query := `UPDATE files SET status = 'completed', chunk_count = $2, updated_at = now()
		WHERE id = $1 AND status = 'uploading'`
	return r.execOne(ctx, "mark completed", query, id, chunkCount)
}

// MarkFailed moves an uploading file to failed.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string) error {
	query := `UPDATE files SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = 'uploading'`
	return r.execOne(ctx, "mark failed", query, id)
}

// UpdateSize records the final byte size and whole-file checksum.
func (r *PostgresRepository) UpdateSize(ctx context.Context, id string, size int64, checksum string) error {
	query := `UPDATE files SET size = $2, checksum = $3, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "update size", query, id, size, checksum)
}

// UpdateMetadata renames the file or changes its content type and returns the
// updated row. An empty argument leaves that column as it is.
func (r *PostgresRepository) UpdateMetadata(ctx context.Context, id, filename, contentType string) (*models.File, error) {
	query := `UPDATE files
		SET filename = COALESCE(NULLIF($2, ''), filename),
		    content_type = COALESCE(NULLIF($3, ''), content_type),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + fileColumns

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id, filename, contentType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update file metadata: %w", err)
	}
	return f, nil
}

// Delete removes the file row; chunks, versions and grants cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete file", `DELETE FROM files WHERE id = $1`, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%s: %w", op, common.ErrNotFound)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
