package grpc

import (
	"github.com/dmitrijs2005/chunkvault/internal/api"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

func fileInfo(f *models.File) *api.FileInfo {
	if f == nil {
		return nil
	}
	return &api.FileInfo{
		ID:          f.ID,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Size:        f.Size,
		ChunkCount:  f.ChunkCount,
		Checksum:    f.Checksum,
		OwnerID:     f.OwnerID,
		OwnerEmail:  f.OwnerEmail,
		Status:      string(f.Status),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func syncEventInfo(e *models.SyncEvent) *api.SyncEventInfo {
	if e == nil {
		return nil
	}
	return &api.SyncEventInfo{
		ID:        e.ID,
		FileID:    e.FileID,
		Type:      string(e.Type),
		Status:    string(e.Status),
		Outcome:   string(e.Outcome),
		Result:    e.Result,
		Error:     e.Error,
		Attempt:   e.Attempt,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func shareInfo(g *models.Grant) *api.ShareInfo {
	return &api.ShareInfo{
		ID:         g.ID,
		FileID:     g.FileID,
		Grantee:    g.Grantee,
		Permission: string(g.Permission),
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
}

func versionInfo(v *models.Version) *api.VersionInfo {
	return &api.VersionInfo{
		FileID:    v.FileID,
		Number:    v.Number,
		Label:     v.Label,
		CreatedBy: v.CreatedBy,
		CreatedAt: v.CreatedAt,
	}
}
