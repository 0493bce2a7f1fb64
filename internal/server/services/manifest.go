package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/auth"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// eventQueue hands committed sync events to the processor.
type eventQueue interface {
	Enqueue(ctx context.Context, eventID string) bool
}

// SharedFile is a file visible to a grantee together with the granted permission.
type SharedFile struct {
	File       *models.File
	Permission models.Permission
}

// OwnedShare is one of the caller's files with everyone it is shared with.
type OwnedShare struct {
	File   *models.File
	Grants []*models.Grant
}

// FileUpdate names the metadata to change. Empty fields are left as they are.
type FileUpdate struct {
	Filename    string
	ContentType string
}

// UpdatePayload is carried by the update sync event of a metadata change.
type UpdatePayload struct {
	Filename         string `json:"filename,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	PreviousFilename string `json:"previous_filename,omitempty"`
	UpdatedBy        string `json:"updated_by"`
}

// ManifestService is the query and mutation surface of the manifest store
// that needs access control or spans several repositories.
type ManifestService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	events      eventQueue
	opts        Options
	logger      logging.Logger
}

func NewManifestService(db *sql.DB, rm repomanager.RepositoryManager, events eventQueue, opts Options, l logging.Logger) *ManifestService {
	return &ManifestService{
		db:          db,
		repomanager: rm,
		events:      events,
		opts:        opts,
		logger:      l.With("module", "manifest"),
	}
}

func (s *ManifestService) getFile(ctx context.Context, fileID string) (*models.File, error) {
	var f *models.File
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.repomanager.Files(s.db).Get(ctx, fileID)
		return err
	})
	return f, err
}

// CheckAccess resolves what id may do with the file: owner first, then an
// exact-match sharing grant, otherwise none.
func (s *ManifestService) CheckAccess(ctx context.Context, fileID string, id auth.Identity) (*models.File, models.AccessLevel, error) {
	f, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, models.AccessNone, err
	}
	if id.IsZero() {
		return f, models.AccessNone, nil
	}
	if f.OwnerID == id.Subject {
		return f, models.AccessOwner, nil
	}

	var g *models.Grant
	err = s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		g, err = s.repomanager.Shares(s.db).Find(ctx, fileID, id.Subject, id.Email)
		return err
	})
	if errors.Is(err, common.ErrNotFound) {
		return f, models.AccessNone, nil
	}
	if err != nil {
		return nil, models.AccessNone, err
	}
	return f, models.AccessFromPermission(g.Permission), nil
}

// require returns the file when id holds at least level on it.
func (s *ManifestService) require(ctx context.Context, fileID string, id auth.Identity, level models.AccessLevel) (*models.File, error) {
	f, got, err := s.CheckAccess(ctx, fileID, id)
	if err != nil {
		return nil, err
	}
	if got < level {
		return nil, fmt.Errorf("%w: %s access to file %s, need %s", common.ErrAccessDenied, got, fileID, level)
	}
	return f, nil
}

func (s *ManifestService) GetFile(ctx context.Context, fileID string, id auth.Identity) (*models.File, error) {
	return s.require(ctx, fileID, id, models.AccessRead)
}

// ListFiles returns the files owned by id, newest first.
func (s *ManifestService) ListFiles(ctx context.Context, id auth.Identity) ([]*models.File, error) {
	if id.IsZero() {
		return nil, common.ErrUnauthenticated
	}
	var out []*models.File
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repomanager.Files(s.db).ListByOwner(ctx, id.Subject)
		return err
	})
	return out, err
}

// ListChunks returns the chunk records of a file ordered by index. Gaps or
// duplicate indices are reported as common.ErrIntegrity.
func (s *ManifestService) ListChunks(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	var list []*models.Chunk
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		list, err = s.repomanager.Chunks(s.db).ListByFile(ctx, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := checkChunkOrder(list); err != nil {
		return nil, fmt.Errorf("file %s: %w", fileID, err)
	}
	return list, nil
}

func checkChunkOrder(list []*models.Chunk) error {
	for i, c := range list {
		switch {
		case c.Index < i:
			return fmt.Errorf("%w: duplicate chunk index %d", common.ErrIntegrity, c.Index)
		case c.Index > i:
			return fmt.Errorf("%w: missing chunk index %d", common.ErrIntegrity, i)
		}
	}
	return nil
}

// DeletePayload is the chunk key snapshot carried by a delete sync event.
type DeletePayload struct {
	Filename string   `json:"filename"`
	OwnerID  string   `json:"owner_id"`
	Keys     []string `json:"keys"`
}

// DeleteFile removes the file and, by cascade, its chunk and version records.
// Chunk store objects are not touched: the chunk keys are captured into a
// pending delete sync event committed in the same transaction, which the
// caller hands to the sync processor.
func (s *ManifestService) DeleteFile(ctx context.Context, fileID string, id auth.Identity) (*models.SyncEvent, error) {
	f, err := s.require(ctx, fileID, id, models.AccessOwner)
	if err != nil {
		return nil, err
	}

	var ev *models.SyncEvent
	err = s.opts.manifest(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			list, err := s.repomanager.Chunks(tx).ListByFile(ctx, fileID)
			if err != nil {
				return err
			}
			p := DeletePayload{Filename: f.Filename, OwnerID: f.OwnerID, Keys: make([]string, 0, len(list))}
			for _, c := range list {
				p.Keys = append(p.Keys, c.Key)
			}
			raw, err := json.Marshal(p)
			if err != nil {
				return err
			}

			ev = newSyncEvent(fileID, models.SyncDelete, raw, 0)
			ev.OwnerID = f.OwnerID
			if err := s.repomanager.SyncEvents(tx).Create(ctx, ev); err != nil {
				return err
			}
			return s.repomanager.Files(tx).Delete(ctx, fileID)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("delete file %s: %w", fileID, err)
	}

	s.logger.Info(ctx, "file deleted", "file_id", fileID, "sync_event_id", ev.ID)
	return ev, nil
}

// Share grants permission on the file to grantee (a user id or email).
// Re-sharing with the same grantee updates the existing grant.
func (s *ManifestService) Share(ctx context.Context, fileID string, id auth.Identity, grantee string, perm models.Permission) (*models.Grant, error) {
	grantee = strings.TrimSpace(grantee)
	if grantee == "" {
		return nil, fmt.Errorf("%w: grantee is required", common.ErrValidation)
	}
	if !perm.Valid() {
		return nil, fmt.Errorf("%w: unknown permission %q", common.ErrValidation, perm)
	}

	f, err := s.require(ctx, fileID, id, models.AccessOwner)
	if err != nil {
		return nil, err
	}
	if grantee == f.OwnerID || (f.OwnerEmail != "" && grantee == f.OwnerEmail) {
		return nil, fmt.Errorf("%w: cannot share a file with its owner", common.ErrValidation)
	}

	g := &models.Grant{
		ID:         uuid.NewString(),
		FileID:     fileID,
		OwnerID:    f.OwnerID,
		Grantee:    grantee,
		Permission: perm,
	}
	err = s.opts.manifest(ctx, func(ctx context.Context) error {
		return s.repomanager.Shares(s.db).Upsert(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "file shared", "file_id", fileID, "grantee", grantee, "permission", perm)
	return g, nil
}

func (s *ManifestService) Revoke(ctx context.Context, fileID string, id auth.Identity, grantee string) error {
	if _, err := s.require(ctx, fileID, id, models.AccessOwner); err != nil {
		return err
	}
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		return s.repomanager.Shares(s.db).Delete(ctx, fileID, strings.TrimSpace(grantee))
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "share revoked", "file_id", fileID, "grantee", grantee)
	return nil
}

func (s *ManifestService) ListShares(ctx context.Context, fileID string, id auth.Identity) ([]*models.Grant, error) {
	if _, err := s.require(ctx, fileID, id, models.AccessOwner); err != nil {
		return nil, err
	}
	var out []*models.Grant
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repomanager.Shares(s.db).ListByFile(ctx, fileID)
		return err
	})
	return out, err
}

// SharedWithMe lists completed files other users shared with id.
func (s *ManifestService) SharedWithMe(ctx context.Context, id auth.Identity) ([]SharedFile, error) {
	if id.IsZero() {
		return nil, common.ErrUnauthenticated
	}
	var grants []*models.Grant
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		grants, err = s.repomanager.Shares(s.db).ListForGrantee(ctx, id.Subject, id.Email)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]SharedFile, 0, len(grants))
	seen := make(map[string]int, len(grants))
	for _, g := range grants {
		// A subject grant and an email grant may both exist; keep the stronger.
		if i, ok := seen[g.FileID]; ok {
			if g.Permission == models.PermissionWrite {
				out[i].Permission = g.Permission
			}
			continue
		}
		f, err := s.getFile(ctx, g.FileID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.Status != models.FileCompleted {
			continue
		}
		seen[g.FileID] = len(out)
		out = append(out, SharedFile{File: f, Permission: g.Permission})
	}
	return out, nil
}

// SharedByMe lists the caller's files that have sharing grants, each with
// its grants, most recently shared first.
func (s *ManifestService) SharedByMe(ctx context.Context, id auth.Identity) ([]OwnedShare, error) {
	if id.IsZero() {
		return nil, common.ErrUnauthenticated
	}
	var grants []*models.Grant
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		grants, err = s.repomanager.Shares(s.db).ListByOwner(ctx, id.Subject)
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []OwnedShare
	index := make(map[string]int)
	for _, g := range grants {
		if i, ok := index[g.FileID]; ok {
			out[i].Grants = append(out[i].Grants, g)
			continue
		}
		f, err := s.getFile(ctx, g.FileID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		index[g.FileID] = len(out)
		out = append(out, OwnedShare{File: f, Grants: []*models.Grant{g}})
	}
	return out, nil
}

// UpdateFile renames a completed file or changes its content type and
// queues an update sync event in the same transaction. Owners and write
// grantees may do this. A request that changes nothing returns the file and
// a nil event.
func (s *ManifestService) UpdateFile(ctx context.Context, fileID string, id auth.Identity, upd FileUpdate) (*models.File, *models.SyncEvent, error) {
	upd.Filename = strings.TrimSpace(upd.Filename)
	upd.ContentType = strings.TrimSpace(upd.ContentType)
	if upd.Filename == "" && upd.ContentType == "" {
		return nil, nil, fmt.Errorf("%w: nothing to update", common.ErrValidation)
	}

	f, err := s.require(ctx, fileID, id, models.AccessWrite)
	if err != nil {
		return nil, nil, err
	}
	if f.Status != models.FileCompleted {
		return nil, nil, fmt.Errorf("file %s is %s: %w", fileID, f.Status, common.ErrIncomplete)
	}
	if upd.Filename == f.Filename {
		upd.Filename = ""
	}
	if upd.ContentType == f.ContentType {
		upd.ContentType = ""
	}
	if upd.Filename == "" && upd.ContentType == "" {
		return f, nil, nil
	}

	p := UpdatePayload{Filename: upd.Filename, ContentType: upd.ContentType, UpdatedBy: id.Subject}
	if upd.Filename != "" {
		p.PreviousFilename = f.Filename
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}

	var updated *models.File
	var ev *models.SyncEvent
	err = s.opts.manifest(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			updated, err = s.repomanager.Files(tx).UpdateMetadata(ctx, fileID, upd.Filename, upd.ContentType)
			if err != nil {
				return err
			}
			ev = newSyncEvent(fileID, models.SyncUpdate, raw, 0)
			ev.OwnerID = f.OwnerID
			return s.repomanager.SyncEvents(tx).Create(ctx, ev)
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("update file %s: %w", fileID, err)
	}

	s.logger.Info(ctx, "file updated", "file_id", fileID, "filename", updated.Filename, "content_type", updated.ContentType)
	if s.events != nil && !s.events.Enqueue(ctx, ev.ID) {
		s.logger.Warn(ctx, "sync event left pending", "sync_event_id", ev.ID)
	}
	return updated, ev, nil
}

// CreateVersion records a new version of a completed file and queues an
// update sync event. Owners and write grantees may do this.
func (s *ManifestService) CreateVersion(ctx context.Context, fileID string, id auth.Identity, label string) (*models.Version, error) {
	f, err := s.require(ctx, fileID, id, models.AccessWrite)
	if err != nil {
		return nil, err
	}
	if f.Status != models.FileCompleted {
		return nil, fmt.Errorf("file %s is %s: %w", fileID, f.Status, common.ErrIncomplete)
	}

	v := &models.Version{FileID: fileID, Label: strings.TrimSpace(label), CreatedBy: id.Subject}
	var ev *models.SyncEvent
	err = s.opts.manifest(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := s.repomanager.Versions(tx).Create(ctx, v); err != nil {
				return err
			}
			ev = newSyncEvent(fileID, models.SyncUpdate, nil, 0)
			ev.OwnerID = f.OwnerID
			return s.repomanager.SyncEvents(tx).Create(ctx, ev)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create version of %s: %w", fileID, err)
	}

	s.logger.Info(ctx, "version created", "file_id", fileID, "version", v.Number)
	if s.events != nil && !s.events.Enqueue(ctx, ev.ID) {
		s.logger.Warn(ctx, "sync event left pending", "sync_event_id", ev.ID)
	}
	return v, nil
}

func (s *ManifestService) ListVersions(ctx context.Context, fileID string, id auth.Identity) ([]*models.Version, error) {
	if _, err := s.require(ctx, fileID, id, models.AccessRead); err != nil {
		return nil, err
	}
	var out []*models.Version
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repomanager.Versions(s.db).ListByFile(ctx, fileID)
		return err
	})
	return out, err
}
