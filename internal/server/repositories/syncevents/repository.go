// Package syncevents persists SyncEvent records for audit and re-checks.
package syncevents

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

// ErrStaleStatus is returned by Transition when the event is no longer in the
// expected from-status (another worker moved it, or it is terminal).
var ErrStaleStatus = errors.New("sync event status changed")

// Change is the terminal data written with a transition.
type Change struct {
	Outcome models.SyncOutcome
	Result  []byte
	Error   string
}

type Repository interface {
	Create(ctx context.Context, e *models.SyncEvent) error
	Get(ctx context.Context, id string) (*models.SyncEvent, error)
	Transition(ctx context.Context, id string, from, to models.SyncStatus, change Change) error
	ListByFile(ctx context.Context, fileID string) ([]*models.SyncEvent, error)
	ListByOwner(ctx context.Context, ownerID string, status models.SyncStatus, limit, offset int) ([]*models.SyncEvent, error)
	ListRecheckCandidates(ctx context.Context, maxAttempts, limit int) ([]*models.SyncEvent, error)
	ListStalled(ctx context.Context, pendingBefore, processingBefore time.Time, limit int) ([]*models.SyncEvent, error)
}
