package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

const grantColumns = `id, file_id, owner_id, grantee, permission, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(s scanner) (*models.Grant, error) {
	var g models.Grant
	var perm string
	if err := s.Scan(&g.ID, &g.FileID, &g.OwnerID, &g.Grantee, &perm, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Permission = models.Permission(perm)
	return &g, nil
}

// Upsert creates the grant or, when (file, grantee) already has one, updates
// its permission in place. The stored id and timestamps are written back into g.
func (r *PostgresRepository) Upsert(ctx context.Context, g *models.Grant) error {
	query := `
		INSERT INTO sharing_grants (id, file_id, owner_id, grantee, permission)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (file_id, grantee)
		DO UPDATE SET permission = EXCLUDED.permission, updated_at = now()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, g.ID, g.FileID, g.OwnerID, g.Grantee, string(g.Permission)).
		Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Find returns the strongest grant on fileID held by subject or email.
// An empty email only matches the subject.
func (r *PostgresRepository) Find(ctx context.Context, fileID, subject, email string) (*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM sharing_grants
		WHERE file_id = $1 AND (grantee = $2 OR ($3 <> '' AND grantee = $3))
		ORDER BY CASE permission WHEN 'write' THEN 0 ELSE 1 END
		LIMIT 1`

	g, err := scanGrant(r.db.QueryRowContext(ctx, query, fileID, subject, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("grant on %s: %w", fileID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select grant: %w", err)
	}
	return g, nil
}

func (r *PostgresRepository) ListByFile(ctx context.Context, fileID string) ([]*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM sharing_grants WHERE file_id = $1 ORDER BY created_at`
	return r.list(ctx, query, fileID)
}

// ListForGrantee returns every grant whose grantee equals subject or email.
func (r *PostgresRepository) ListForGrantee(ctx context.Context, subject, email string) ([]*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM sharing_grants
		WHERE grantee = $1 OR ($2 <> '' AND grantee = $2)
		ORDER BY created_at DESC`
	return r.list(ctx, query, subject, email)
}

// ListByOwner returns every grant ownerID made, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM sharing_grants WHERE owner_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, ownerID)
}

func (r *PostgresRepository) Delete(ctx context.Context, fileID, grantee string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sharing_grants WHERE file_id = $1 AND grantee = $2`, fileID, grantee)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("grant for %s on %s: %w", grantee, fileID, common.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Grant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select grants: %w", err)
	}
	defer rows.Close()

	var result []*models.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
