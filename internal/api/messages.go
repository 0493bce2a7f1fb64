// Package api declares the chunkvault.FileService wire contract shared by the
// gRPC server and the Go client: request and response messages, the service
// descriptor and the JSON codec they travel with.
package api

import (
	"encoding/json"
	"time"
)

type FileInfo struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	ChunkCount  int       `json:"chunk_count"`
	Checksum    string    `json:"checksum,omitempty"`
	OwnerID     string    `json:"owner_id"`
	OwnerEmail  string    `json:"owner_email,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SyncEventInfo struct {
	ID        string          `json:"id"`
	FileID    string          `json:"file_id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Outcome   string          `json:"outcome,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ShareInfo struct {
	ID         string    `json:"id"`
	FileID     string    `json:"file_id"`
	Grantee    string    `json:"grantee"`
	Permission string    `json:"permission"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type VersionInfo struct {
	FileID    string    `json:"file_id"`
	Number    int       `json:"number"`
	Label     string    `json:"label,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// UploadRequest is one frame of the Upload client stream. The first frame
// carries the header fields; every frame may carry Data.
type UploadRequest struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	// Size is the declared total size, zero when unknown.
	Size int64 `json:"size,omitempty"`
	// Wait makes the server answer only once the upload has finished.
	Wait bool   `json:"wait,omitempty"`
	Data []byte `json:"data,omitempty"`
}

type UploadResponse struct {
	FileID string    `json:"file_id"`
	File   *FileInfo `json:"file,omitempty"`
}

type StatusRequest struct {
	FileID string `json:"file_id"`
}

type StatusResponse struct {
	File *FileInfo `json:"file"`
	// Error is the failure reason of a recent failed upload.
	Error string `json:"error,omitempty"`
	// Sync is the latest sync event of the file, if any.
	Sync *SyncEventInfo `json:"sync,omitempty"`
}

type DownloadRequest struct {
	FileID string `json:"file_id"`
}

// DownloadResponse is one frame of the Download server stream. Only the
// first frame carries File.
type DownloadResponse struct {
	File *FileInfo `json:"file,omitempty"`
	Data []byte    `json:"data,omitempty"`
}

type DeleteRequest struct {
	FileID string `json:"file_id"`
}

type DeleteResponse struct {
	Sync *SyncEventInfo `json:"sync"`
}

type ListFilesRequest struct{}

type ListFilesResponse struct {
	Files []*FileInfo `json:"files"`
}

type ShareRequest struct {
	FileID     string `json:"file_id"`
	Grantee    string `json:"grantee"`
	Permission string `json:"permission"`
}

type ShareResponse struct {
	Share *ShareInfo `json:"share"`
}

type RevokeRequest struct {
	FileID  string `json:"file_id"`
	Grantee string `json:"grantee"`
}

type RevokeResponse struct{}

type ListSharesRequest struct {
	FileID string `json:"file_id"`
}

type ListSharesResponse struct {
	Shares []*ShareInfo `json:"shares"`
}

type SharedWithMeRequest struct{}

type SharedFile struct {
	File       *FileInfo `json:"file"`
	Permission string    `json:"permission"`
}

type SharedWithMeResponse struct {
	Files []*SharedFile `json:"files"`
}

type SharedByMeRequest struct{}

// SharedByMeFile is one of the caller's files with every grant on it.
type SharedByMeFile struct {
	File   *FileInfo    `json:"file"`
	Shares []*ShareInfo `json:"shares"`
}

type SharedByMeResponse struct {
	Files []*SharedByMeFile `json:"files"`
}

// UpdateFileRequest changes the name or content type of a file. Empty
// fields are left as they are.
type UpdateFileRequest struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// UpdateFileResponse carries no Sync when nothing changed.
type UpdateFileResponse struct {
	File *FileInfo      `json:"file"`
	Sync *SyncEventInfo `json:"sync,omitempty"`
}

type ListSyncEventsRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

type ListSyncEventsResponse struct {
	Events []*SyncEventInfo `json:"events"`
}

type CreateVersionRequest struct {
	FileID string `json:"file_id"`
	Label  string `json:"label,omitempty"`
}

type CreateVersionResponse struct {
	Version *VersionInfo `json:"version"`
}

type ListVersionsRequest struct {
	FileID string `json:"file_id"`
}

type ListVersionsResponse struct {
	Versions []*VersionInfo `json:"versions"`
}

type GetSyncEventRequest struct {
	EventID string `json:"event_id"`
}

type GetSyncEventResponse struct {
	Event *SyncEventInfo `json:"event"`
}
