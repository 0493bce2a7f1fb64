// Package models defines server-side data models persisted in the manifest store.
package models

import "time"

// FileStatus is the upload lifecycle of a File. It only moves forward:
// uploading → completed or uploading → failed.
type FileStatus string

const (
	FileUploading FileStatus = "uploading"
	FileCompleted FileStatus = "completed"
	FileFailed    FileStatus = "failed"
)

// CanTransition reports whether a file in status s may move to next.
func (s FileStatus) CanTransition(next FileStatus) bool {
	return s == FileUploading && (next == FileCompleted || next == FileFailed)
}

// File is one logical uploaded object. Its content lives in the chunk store;
// the manifest keeps the ordered chunk list in Chunk records.
type File struct {
	ID          string
	Filename    string
	ContentType string
	// Size stays zero until every chunk has been recorded.
	Size int64
	// ChunkCount is the number of chunks the completed upload produced.
	ChunkCount int
	// Checksum is the hex SHA-256 of the whole content, empty until known.
	Checksum   string
	OwnerID    string
	OwnerEmail string
	Status     FileStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chunk is one stored slice of a File. Index defines reconstruction order.
type Chunk struct {
	FileID    string
	Index     int
	Key       string
	Size      int64
	Hash      string
	CreatedAt time.Time
}

// Version marks a point in a file's history. Numbers start at 1 and grow
// strictly; the highest one is current.
type Version struct {
	FileID    string
	Number    int
	Label     string
	CreatedBy string
	CreatedAt time.Time
}
