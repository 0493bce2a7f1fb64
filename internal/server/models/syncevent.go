package models

import (
	"encoding/json"
	"time"
)

type SyncEventType string

const (
	SyncUpload SyncEventType = "upload"
	SyncDelete SyncEventType = "delete"
	SyncUpdate SyncEventType = "update"
)

// SyncStatus moves pending → processing → completed|failed and is immutable
// once terminal. A processing event may return to pending when its worker
// gives it up or abandons it.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncProcessing SyncStatus = "processing"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

func (s SyncStatus) Terminal() bool {
	return s == SyncCompleted || s == SyncFailed
}

func (s SyncStatus) CanTransition(next SyncStatus) bool {
	switch s {
	case SyncPending:
		return next == SyncProcessing
	case SyncProcessing:
		return next == SyncCompleted || next == SyncFailed || next == SyncPending
	default:
		return false
	}
}

// SyncOutcome is the reconciliation verdict of a completed event. Pending and
// incomplete mean "still converging" and may be re-triggered.
type SyncOutcome string

const (
	OutcomePending    SyncOutcome = "pending"
	OutcomeIncomplete SyncOutcome = "incomplete"
	OutcomeCompleted  SyncOutcome = "completed"
)

// SyncEvent is an asynchronous reconciliation task for one file.
type SyncEvent struct {
	ID     string
	FileID string
	// OwnerID is the owner of the file when the event was created.
	OwnerID string
	Type    SyncEventType
	Status  SyncStatus
	Outcome SyncOutcome
	// Payload is type specific input, e.g. the chunk key snapshot of a delete.
	Payload json.RawMessage
	// Result is the JSON report written when the event completes.
	Result json.RawMessage
	// Error is set when the event failed.
	Error     string
	Attempt   int
	CreatedAt time.Time
	UpdatedAt time.Time
}
