package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/dmitrijs2005/chunkvault/internal/api"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/server/auth"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const downloadFrameSize = 1 << 20

func identity(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return id, nil
}

// pump copies the data frames of an upload stream into pw until the client
// closes its side.
func pump(stream api.UploadServerStream, first []byte, pw *io.PipeWriter) error {
	if len(first) > 0 {
		if _, err := pw.Write(first); err != nil {
			return err
		}
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return pw.Close()
		}
		if err != nil {
			pw.CloseWithError(err)
			return err
		}
		if _, err := pw.Write(msg.Data); err != nil {
			return err
		}
	}
}

// Upload starts a chunked upload fed by the client stream. It answers once
// the body has been consumed, or once the upload finished when the header
// asks to wait.
func (s *GRPCServer) Upload(stream api.UploadServerStream) error {
	ctx := stream.Context()
	id, err := identity(ctx)
	if err != nil {
		return err
	}

	head, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return status.Error(codes.InvalidArgument, "missing upload header")
	}
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	pumped := make(chan error, 1)
	go func() { pumped <- pump(stream, head.Data, pw) }()

	fileID, err := s.uploads.Upload(ctx, services.UploadInput{
		Filename:    head.Filename,
		ContentType: head.ContentType,
		Size:        head.Size,
		Owner:       id,
		Body:        pr,
	})
	if err != nil {
		pr.CloseWithError(err)
		<-pumped
		return toStatus(err)
	}

	waited := make(chan error, 1)
	go func() {
		_, err := s.uploads.Wait(context.WithoutCancel(ctx), fileID)
		waited <- err
	}()

	finished := false
	var waitErr error
	select {
	case err := <-pumped:
		if err != nil {
			s.logger.Warn(ctx, "upload stream broken", "file_id", fileID, "error", err)
			return toStatus(err)
		}
	case waitErr = <-waited:
		finished = true
		// The upload may end before the body does; unblock the pump.
		pr.CloseWithError(errors.New("upload finished"))
		<-pumped
		if waitErr != nil {
			return toStatus(waitErr)
		}
	}

	resp := &api.UploadResponse{FileID: fileID}
	if head.Wait {
		if !finished {
			waitErr = <-waited
		}
		if waitErr != nil {
			return toStatus(waitErr)
		}
		f, err := s.manifest.GetFile(ctx, fileID, id)
		if err != nil {
			return toStatus(err)
		}
		resp.File = fileInfo(f)
	}
	return stream.SendAndClose(resp)
}

func (s *GRPCServer) Status(ctx context.Context, req *api.StatusRequest) (*api.StatusResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.manifest.GetFile(ctx, req.FileID, id); err != nil {
		return nil, toStatus(err)
	}

	st, err := s.uploads.Status(ctx, req.FileID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.StatusResponse{File: fileInfo(st.File)}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}

	events, err := s.sync.ListEvents(ctx, req.FileID)
	if err != nil {
		s.logger.Warn(ctx, "list sync events failed", "file_id", req.FileID, "error", err)
	} else if len(events) > 0 {
		resp.Sync = syncEventInfo(events[0])
	}
	return resp, nil
}

// Download streams a verified file: the first frame carries the file record,
// the rest carry content in order.
func (s *GRPCServer) Download(req *api.DownloadRequest, stream api.DownloadServerStream) error {
	ctx := stream.Context()
	id, err := identity(ctx)
	if err != nil {
		return err
	}

	d, err := s.downloads.Download(ctx, req.FileID, id)
	if err != nil {
		return toStatus(err)
	}

	info := fileInfo(d.File)
	info.Size = d.Size
	if err := stream.Send(&api.DownloadResponse{File: info}); err != nil {
		return err
	}

	frame := downloadFrameSize
	if s.opts.MaxMessageSize > 0 {
		// Leave room for base64 and framing.
		frame = min(frame, s.opts.MaxMessageSize/2)
	}
	buf := make([]byte, max(frame, 1))
	for {
		n, err := d.Reader.Read(buf)
		if n > 0 {
			if err := stream.Send(&api.DownloadResponse{Data: buf[:n]}); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return toStatus(err)
		}
	}
}

// Delete removes the file from the manifest and runs the chunk cleanup
// before answering. A failed cleanup is reported in the returned event.
func (s *GRPCServer) Delete(ctx context.Context, req *api.DeleteRequest) (*api.DeleteResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}

	ev, err := s.manifest.DeleteFile(ctx, req.FileID, id)
	if err != nil {
		return nil, toStatus(err)
	}

	done, err := s.sync.Process(ctx, ev.ID)
	if done == nil {
		s.logger.Warn(ctx, "chunk cleanup not recorded", "file_id", req.FileID, "sync_event_id", ev.ID, "error", err)
		return &api.DeleteResponse{Sync: syncEventInfo(ev)}, nil
	}
	if err != nil {
		s.logger.Warn(ctx, "chunk cleanup failed", "file_id", req.FileID, "sync_event_id", ev.ID, "error", err)
	}
	return &api.DeleteResponse{Sync: syncEventInfo(done)}, nil
}

func (s *GRPCServer) ListFiles(ctx context.Context, _ *api.ListFilesRequest) (*api.ListFilesResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.manifest.ListFiles(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.ListFilesResponse{Files: make([]*api.FileInfo, 0, len(list))}
	for _, f := range list {
		resp.Files = append(resp.Files, fileInfo(f))
	}
	return resp, nil
}

func (s *GRPCServer) Share(ctx context.Context, req *api.ShareRequest) (*api.ShareResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	g, err := s.manifest.Share(ctx, req.FileID, id, req.Grantee, models.Permission(req.Permission))
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ShareResponse{Share: shareInfo(g)}, nil
}

func (s *GRPCServer) Revoke(ctx context.Context, req *api.RevokeRequest) (*api.RevokeResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.manifest.Revoke(ctx, req.FileID, id, req.Grantee); err != nil {
		return nil, toStatus(err)
	}
	return &api.RevokeResponse{}, nil
}

func (s *GRPCServer) ListShares(ctx context.Context, req *api.ListSharesRequest) (*api.ListSharesResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.manifest.ListShares(ctx, req.FileID, id)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.ListSharesResponse{Shares: make([]*api.ShareInfo, 0, len(list))}
	for _, g := range list {
		resp.Shares = append(resp.Shares, shareInfo(g))
	}
	return resp, nil
}

func (s *GRPCServer) SharedWithMe(ctx context.Context, _ *api.SharedWithMeRequest) (*api.SharedWithMeResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.manifest.SharedWithMe(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.SharedWithMeResponse{Files: make([]*api.SharedFile, 0, len(list))}
	for _, sf := range list {
		resp.Files = append(resp.Files, &api.SharedFile{File: fileInfo(sf.File), Permission: string(sf.Permission)})
	}
	return resp, nil
}

func (s *GRPCServer) SharedByMe(ctx context.Context, _ *api.SharedByMeRequest) (*api.SharedByMeResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.manifest.SharedByMe(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.SharedByMeResponse{Files: make([]*api.SharedByMeFile, 0, len(list))}
	for _, sh := range list {
		f := &api.SharedByMeFile{File: fileInfo(sh.File), Shares: make([]*api.ShareInfo, 0, len(sh.Grants))}
		for _, g := range sh.Grants {
			f.Shares = append(f.Shares, shareInfo(g))
		}
		resp.Files = append(resp.Files, f)
	}
	return resp, nil
}

func (s *GRPCServer) UpdateFile(ctx context.Context, req *api.UpdateFileRequest) (*api.UpdateFileResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	f, ev, err := s.manifest.UpdateFile(ctx, req.FileID, id, services.FileUpdate{Filename: req.Filename, ContentType: req.ContentType})
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.UpdateFileResponse{File: fileInfo(f), Sync: syncEventInfo(ev)}, nil
}

// ListSyncEvents pages through the caller's sync events, newest first.
func (s *GRPCServer) ListSyncEvents(ctx context.Context, req *api.ListSyncEventsRequest) (*api.ListSyncEventsResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	q := services.EventQuery{Status: models.SyncStatus(req.Status), Limit: req.Limit, Offset: req.Offset}
	events, err := s.sync.ListOwnerEvents(ctx, id, q)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.ListSyncEventsResponse{Events: make([]*api.SyncEventInfo, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, syncEventInfo(e))
	}
	return resp, nil
}

func (s *GRPCServer) CreateVersion(ctx context.Context, req *api.CreateVersionRequest) (*api.CreateVersionResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.manifest.CreateVersion(ctx, req.FileID, id, req.Label)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.CreateVersionResponse{Version: versionInfo(v)}, nil
}

func (s *GRPCServer) ListVersions(ctx context.Context, req *api.ListVersionsRequest) (*api.ListVersionsResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.manifest.ListVersions(ctx, req.FileID, id)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.ListVersionsResponse{Versions: make([]*api.VersionInfo, 0, len(list))}
	for _, v := range list {
		resp.Versions = append(resp.Versions, versionInfo(v))
	}
	return resp, nil
}

// GetSyncEvent returns an event to anyone who may read its file. Events of
// deleted files are visible to the former owner only.
func (s *GRPCServer) GetSyncEvent(ctx context.Context, req *api.GetSyncEventRequest) (*api.GetSyncEventResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := s.sync.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, toStatus(err)
	}

	_, level, err := s.manifest.CheckAccess(ctx, ev.FileID, id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		if !formerOwner(ev, id) {
			return nil, status.Error(codes.NotFound, "sync event not found")
		}
	case err != nil:
		return nil, toStatus(err)
	case level < models.AccessRead:
		return nil, status.Error(codes.PermissionDenied, "access denied")
	}
	return &api.GetSyncEventResponse{Event: syncEventInfo(ev)}, nil
}

func formerOwner(ev *models.SyncEvent, id auth.Identity) bool {
	if ev.Type != models.SyncDelete || len(ev.Payload) == 0 {
		return false
	}
	var p services.DeletePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false
	}
	return p.OwnerID != "" && p.OwnerID == id.Subject
}
