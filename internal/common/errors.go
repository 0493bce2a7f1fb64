package common

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the manifest store, chunk store and orchestrators.
// Callers should match these values with errors.Is.
var (
	// ErrNotFound means a file, chunk or sync event is absent.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied means the identity lacks the required permission.
	ErrAccessDenied = errors.New("access denied")
	// ErrIncomplete means manifest and storage disagree; retriable.
	ErrIncomplete = errors.New("incomplete")
	// ErrUpstreamUnavailable means the chunk store or manifest store could not
	// be reached after retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrValidation means malformed input.
	ErrValidation = errors.New("validation error")
	// ErrIntegrity means stored content does not match its recorded hash.
	ErrIntegrity = errors.New("integrity error")

	// Transport edge errors.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
)

// ChunkError attaches the chunk index and storage key to a per-chunk failure.
type ChunkError struct {
	Index int
	Key   string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%s): %v", e.Index, e.Key, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Taxonomy errors that describe the data or the caller are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenExpired):
		return false
	}
	return true
}
