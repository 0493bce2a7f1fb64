package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/chunkvault/internal/api"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// FrameSize is the payload size of one Upload message.
const FrameSize = 1 << 20

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      *api.FileServiceClient

	mu          sync.RWMutex
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SetAccessToken replaces the token sent with subsequent calls.
func (s *GRPCClient) SetAccessToken(token string) {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}

func (s *GRPCClient) outgoing(ctx context.Context) context.Context {
	if tok := s.token(); tok != "" {
		return withAccessToken(ctx, tok)
	}
	return ctx
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(s.outgoing(ctx), method, req, reply, cc, opts...)
}

func (s *GRPCClient) streamAccessTokenInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return streamer(s.outgoing(ctx), desc, cc, method, opts...)
}

// NewGRPCClient dials endpointURL lazily; the first call opens the connection.
func NewGRPCClient(endpointURL, accessToken string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, accessToken: accessToken}
	if err := c.InitGRPCClient(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {
	dial := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
		grpc.WithStreamInterceptor(s.streamAccessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(s.endpointURL, dial...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = api.NewFileServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

// UploadOptions describe the file being uploaded.
type UploadOptions struct {
	Filename    string
	ContentType string
	// Size is the declared size; zero leaves it unchecked.
	Size int64
	// Wait blocks until the server has stored every chunk.
	Wait bool
}

// Upload streams r to the server. Without Wait the returned File is nil and
// progress is available through Status.
func (s *GRPCClient) Upload(ctx context.Context, r io.Reader, opt UploadOptions) (string, *api.FileInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.client.Upload(ctx)
	if err != nil {
		return "", nil, mapError(err)
	}

	head := &api.UploadRequest{
		Filename:    opt.Filename,
		ContentType: opt.ContentType,
		Size:        opt.Size,
		Wait:        opt.Wait,
	}

	buf := make([]byte, FrameSize)
	first := true
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 || first {
			frame := &api.UploadRequest{}
			if first {
				frame = head
			}
			frame.Data = buf[:n]
			if err := stream.Send(frame); err != nil {
				// io.EOF means the server closed the stream; CloseAndRecv has the reason.
				if errors.Is(err, io.EOF) {
					break
				}
				return "", nil, mapError(err)
			}
			first = false
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return "", nil, fmt.Errorf("read body: %w", rerr)
		}
	}

	resp, err := stream.CloseAndRecv()
	if err != nil {
		return "", nil, mapError(err)
	}
	return resp.FileID, resp.File, nil
}

// Download writes the content of fileID to w and returns its manifest entry.
func (s *GRPCClient) Download(ctx context.Context, fileID string, w io.Writer) (*api.FileInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.client.Download(ctx, &api.DownloadRequest{FileID: fileID})
	if err != nil {
		return nil, mapError(err)
	}

	var info *api.FileInfo
	var written int64
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, mapError(err)
		}
		if msg.File != nil {
			info = msg.File
		}
		if len(msg.Data) > 0 {
			n, err := w.Write(msg.Data)
			written += int64(n)
			if err != nil {
				return nil, fmt.Errorf("write: %w", err)
			}
		}
	}

	if info == nil {
		return nil, fmt.Errorf("%w: stream ended without file header", common.ErrIncomplete)
	}
	if info.Size != written {
		return nil, fmt.Errorf("%w: received %d of %d bytes", common.ErrIncomplete, written, info.Size)
	}
	return info, nil
}

func (s *GRPCClient) Status(ctx context.Context, fileID string) (*api.StatusResponse, error) {
	resp, err := s.client.Status(ctx, &api.StatusRequest{FileID: fileID})
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

// Delete removes fileID and returns the cleanup event the server ran.
func (s *GRPCClient) Delete(ctx context.Context, fileID string) (*api.SyncEventInfo, error) {
	resp, err := s.client.Delete(ctx, &api.DeleteRequest{FileID: fileID})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Sync, nil
}

func (s *GRPCClient) ListFiles(ctx context.Context) ([]*api.FileInfo, error) {
	resp, err := s.client.ListFiles(ctx, &api.ListFilesRequest{})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Files, nil
}

func (s *GRPCClient) Share(ctx context.Context, fileID, grantee, permission string) (*api.ShareInfo, error) {
	resp, err := s.client.Share(ctx, &api.ShareRequest{FileID: fileID, Grantee: grantee, Permission: permission})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Share, nil
}

func (s *GRPCClient) Revoke(ctx context.Context, fileID, grantee string) error {
	_, err := s.client.Revoke(ctx, &api.RevokeRequest{FileID: fileID, Grantee: grantee})
	return mapError(err)
}

func (s *GRPCClient) ListShares(ctx context.Context, fileID string) ([]*api.ShareInfo, error) {
	resp, err := s.client.ListShares(ctx, &api.ListSharesRequest{FileID: fileID})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Shares, nil
}

func (s *GRPCClient) SharedWithMe(ctx context.Context) ([]*api.SharedFile, error) {
	resp, err := s.client.SharedWithMe(ctx, &api.SharedWithMeRequest{})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Files, nil
}

func (s *GRPCClient) SharedByMe(ctx context.Context) ([]*api.SharedByMeFile, error) {
	resp, err := s.client.SharedByMe(ctx, &api.SharedByMeRequest{})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Files, nil
}

// UpdateFile renames a file or changes its content type. Empty arguments
// keep the current value. The returned event is nil when nothing changed.
func (s *GRPCClient) UpdateFile(ctx context.Context, fileID, filename, contentType string) (*api.FileInfo, *api.SyncEventInfo, error) {
	resp, err := s.client.UpdateFile(ctx, &api.UpdateFileRequest{FileID: fileID, Filename: filename, ContentType: contentType})
	if err != nil {
		return nil, nil, mapError(err)
	}
	return resp.File, resp.Sync, nil
}

// ListSyncEvents pages through the caller's sync events, newest first. An
// empty status lists every status; a zero limit uses the server default.
func (s *GRPCClient) ListSyncEvents(ctx context.Context, status string, limit, offset int) ([]*api.SyncEventInfo, error) {
	resp, err := s.client.ListSyncEvents(ctx, &api.ListSyncEventsRequest{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Events, nil
}

func (s *GRPCClient) CreateVersion(ctx context.Context, fileID, label string) (*api.VersionInfo, error) {
	resp, err := s.client.CreateVersion(ctx, &api.CreateVersionRequest{FileID: fileID, Label: label})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Version, nil
}

func (s *GRPCClient) ListVersions(ctx context.Context, fileID string) ([]*api.VersionInfo, error) {
	resp, err := s.client.ListVersions(ctx, &api.ListVersionsRequest{FileID: fileID})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Versions, nil
}

func (s *GRPCClient) GetSyncEvent(ctx context.Context, eventID string) (*api.SyncEventInfo, error) {
	resp, err := s.client.GetSyncEvent(ctx, &api.GetSyncEventRequest{EventID: eventID})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Event, nil
}
