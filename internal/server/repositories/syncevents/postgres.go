package syncevents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

const eventColumns = `id, file_id, owner_id, event_type, status, outcome, payload, result, error, attempt, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*models.SyncEvent, error) {
	var (
		e                    models.SyncEvent
		typ, status, outcome string
		payload, result      []byte
	)
	if err := s.Scan(&e.ID, &e.FileID, &e.OwnerID, &typ, &status, &outcome, &payload, &result, &e.Error, &e.Attempt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Type = models.SyncEventType(typ)
	e.Status = models.SyncStatus(status)
	e.Outcome = models.SyncOutcome(outcome)
	e.Payload = payload
	e.Result = result
	return &e, nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Create inserts the event. An empty OwnerID is taken from the file row when
// the file still exists; the stored owner is written back into e.
func (r *PostgresRepository) Create(ctx context.Context, e *models.SyncEvent) error {
	query := `
		INSERT INTO sync_events (id, file_id, owner_id, event_type, status, payload, attempt)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), (SELECT owner_id FROM files WHERE id = $2), ''), $4, $5, $6, $7)
		RETURNING owner_id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, e.ID, e.FileID, e.OwnerID, string(e.Type), string(e.Status), nullJSON(e.Payload), e.Attempt).
		Scan(&e.OwnerID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.SyncEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM sync_events WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync event %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select sync event: %w", err)
	}
	return e, nil
}

// Transition moves the event from one status to the next, conditional on it
// still being in from. Outcome, result and error are written alongside.
func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to models.SyncStatus, change Change) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s → %s", common.ErrValidation, from, to)
	}

	query := `
		UPDATE sync_events
		SET status = $3, outcome = $4, result = $5, error = $6, updated_at = now()
		WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to), string(change.Outcome), nullJSON(change.Result), change.Error)
	if err != nil {
		return fmt.Errorf("failed to update sync event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sync event %s not %s: %w", id, from, ErrStaleStatus)
	}
	return nil
}

// ListByFile returns the file's events, newest first.
func (r *PostgresRepository) ListByFile(ctx context.Context, fileID string) ([]*models.SyncEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM sync_events WHERE file_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, fileID)
}

// ListByOwner returns the owner's events newest first, optionally only
// those in status. Events of deleted files are included.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string, status models.SyncStatus, limit, offset int) ([]*models.SyncEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM sync_events
		WHERE owner_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	return r.list(ctx, query, ownerID, string(status), limit, offset)
}

// ListRecheckCandidates returns, per still-existing file, the latest upload
// event when it completed as pending or incomplete and has attempts left.
func (r *PostgresRepository) ListRecheckCandidates(ctx context.Context, maxAttempts, limit int) ([]*models.SyncEvent, error) {
	query := `
		SELECT ` + eventColumns + ` FROM (
			SELECT DISTINCT ON (file_id) ` + eventColumns + `
			FROM sync_events
			WHERE event_type = 'upload'
			ORDER BY file_id, created_at DESC
		) latest
		WHERE status = 'completed'
		  AND outcome IN ('pending', 'incomplete')
		  AND attempt < $1
		  AND EXISTS (SELECT 1 FROM files f WHERE f.id = latest.file_id)
		ORDER BY updated_at
		LIMIT $2`
	return r.list(ctx, query, maxAttempts, limit)
}

// ListStalled returns events of any type that no worker is going to pick up:
// pending since before pendingBefore, or processing since before
// processingBefore. Oldest first.
func (r *PostgresRepository) ListStalled(ctx context.Context, pendingBefore, processingBefore time.Time, limit int) ([]*models.SyncEvent, error) {
	query := `
		SELECT ` + eventColumns + ` FROM sync_events
		WHERE (status = 'pending' AND updated_at < $1)
		   OR (status = 'processing' AND updated_at < $2)
		ORDER BY updated_at
		LIMIT $3`
	return r.list(ctx, query, pendingBefore, processingBefore, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.SyncEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select sync events: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
