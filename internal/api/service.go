package api

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
)

const ServiceName = "chunkvault.FileService"

// FullMethod returns the "/service/method" path of a FileService method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// FileServiceServer is implemented by the chunkvault gRPC server.
type FileServiceServer interface {
	Upload(UploadServerStream) error
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Download(*DownloadRequest, DownloadServerStream) error
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	ListFiles(context.Context, *ListFilesRequest) (*ListFilesResponse, error)
	Share(context.Context, *ShareRequest) (*ShareResponse, error)
	Revoke(context.Context, *RevokeRequest) (*RevokeResponse, error)
	ListShares(context.Context, *ListSharesRequest) (*ListSharesResponse, error)
	SharedWithMe(context.Context, *SharedWithMeRequest) (*SharedWithMeResponse, error)
	SharedByMe(context.Context, *SharedByMeRequest) (*SharedByMeResponse, error)
	UpdateFile(context.Context, *UpdateFileRequest) (*UpdateFileResponse, error)
	ListSyncEvents(context.Context, *ListSyncEventsRequest) (*ListSyncEventsResponse, error)
	CreateVersion(context.Context, *CreateVersionRequest) (*CreateVersionResponse, error)
	ListVersions(context.Context, *ListVersionsRequest) (*ListVersionsResponse, error)
	GetSyncEvent(context.Context, *GetSyncEventRequest) (*GetSyncEventResponse, error)
}

type UploadServerStream interface {
	Recv() (*UploadRequest, error)
	SendAndClose(*UploadResponse) error
	grpc.ServerStream
}

type DownloadServerStream interface {
	Send(*DownloadResponse) error
	grpc.ServerStream
}

type uploadServerStream struct{ grpc.ServerStream }

func (s *uploadServerStream) Recv() (*UploadRequest, error) {
	m := new(UploadRequest)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *uploadServerStream) SendAndClose(m *UploadResponse) error {
	return s.SendMsg(m)
}

type downloadServerStream struct{ grpc.ServerStream }

func (s *downloadServerStream) Send(m *DownloadResponse) error {
	return s.SendMsg(m)
}

func unary[Req, Resp any](method string, call func(FileServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(FileServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes chunkvault.FileService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FileServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", FileServiceServer.Status),
		unary("Delete", FileServiceServer.Delete),
		unary("ListFiles", FileServiceServer.ListFiles),
		unary("Share", FileServiceServer.Share),
		unary("Revoke", FileServiceServer.Revoke),
		unary("ListShares", FileServiceServer.ListShares),
		unary("SharedWithMe", FileServiceServer.SharedWithMe),
		unary("SharedByMe", FileServiceServer.SharedByMe),
		unary("UpdateFile", FileServiceServer.UpdateFile),
		unary("ListSyncEvents", FileServiceServer.ListSyncEvents),
		unary("CreateVersion", FileServiceServer.CreateVersion),
		unary("ListVersions", FileServiceServer.ListVersions),
		unary("GetSyncEvent", FileServiceServer.GetSyncEvent),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Upload",
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(FileServiceServer).Upload(&uploadServerStream{stream})
			},
		},
		{
			StreamName:    "Download",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(DownloadRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(FileServiceServer).Download(in, &downloadServerStream{stream})
			},
		},
	},
	Metadata: "chunkvault/file_service",
}

func RegisterFileServiceServer(s grpc.ServiceRegistrar, srv FileServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FileServiceClient is the client stub of chunkvault.FileService. Every call
// uses the JSON codec.
type FileServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewFileServiceClient(cc grpc.ClientConnInterface) *FileServiceClient {
	return &FileServiceClient{cc: cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FileServiceClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "Status", in, opts)
}

func (c *FileServiceClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	return invoke[DeleteResponse](ctx, c.cc, "Delete", in, opts)
}

func (c *FileServiceClient) ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error) {
	return invoke[ListFilesResponse](ctx, c.cc, "ListFiles", in, opts)
}

func (c *FileServiceClient) Share(ctx context.Context, in *ShareRequest, opts ...grpc.CallOption) (*ShareResponse, error) {
	return invoke[ShareResponse](ctx, c.cc, "Share", in, opts)
}

func (c *FileServiceClient) Revoke(ctx context.Context, in *RevokeRequest, opts ...grpc.CallOption) (*RevokeResponse, error) {
	return invoke[RevokeResponse](ctx, c.cc, "Revoke", in, opts)
}

func (c *FileServiceClient) ListShares(ctx context.Context, in *ListSharesRequest, opts ...grpc.CallOption) (*ListSharesResponse, error) {
	return invoke[ListSharesResponse](ctx, c.cc, "ListShares", in, opts)
}

func (c *FileServiceClient) SharedWithMe(ctx context.Context, in *SharedWithMeRequest, opts ...grpc.CallOption) (*SharedWithMeResponse, error) {
	return invoke[SharedWithMeResponse](ctx, c.cc, "SharedWithMe", in, opts)
}

func (c *FileServiceClient) SharedByMe(ctx context.Context, in *SharedByMeRequest, opts ...grpc.CallOption) (*SharedByMeResponse, error) {
	return invoke[SharedByMeResponse](ctx, c.cc, "SharedByMe", in, opts)
}

func (c *FileServiceClient) UpdateFile(ctx context.Context, in *UpdateFileRequest, opts ...grpc.CallOption) (*UpdateFileResponse, error) {
	return invoke[UpdateFileResponse](ctx, c.cc, "UpdateFile", in, opts)
}

func (c *FileServiceClient) ListSyncEvents(ctx context.Context, in *ListSyncEventsRequest, opts ...grpc.CallOption) (*ListSyncEventsResponse, error) {
	return invoke[ListSyncEventsResponse](ctx, c.cc, "ListSyncEvents", in, opts)
}

func (c *FileServiceClient) CreateVersion(ctx context.Context, in *CreateVersionRequest, opts ...grpc.CallOption) (*CreateVersionResponse, error) {
	return invoke[CreateVersionResponse](ctx, c.cc, "CreateVersion", in, opts)
}

func (c *FileServiceClient) ListVersions(ctx context.Context, in *ListVersionsRequest, opts ...grpc.CallOption) (*ListVersionsResponse, error) {
	return invoke[ListVersionsResponse](ctx, c.cc, "ListVersions", in, opts)
}

func (c *FileServiceClient) GetSyncEvent(ctx context.Context, in *GetSyncEventRequest, opts ...grpc.CallOption) (*GetSyncEventResponse, error) {
	return invoke[GetSyncEventResponse](ctx, c.cc, "GetSyncEvent", in, opts)
}

type UploadClientStream interface {
	Send(*UploadRequest) error
	CloseAndRecv() (*UploadResponse, error)
}

type uploadClientStream struct{ grpc.ClientStream }

func (s *uploadClientStream) Send(m *UploadRequest) error {
	return s.SendMsg(m)
}

func (s *uploadClientStream) CloseAndRecv() (*UploadResponse, error) {
	if err := s.CloseSend(); err != nil {
		return nil, err
	}
	m := new(UploadResponse)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *FileServiceClient) Upload(ctx context.Context, opts ...grpc.CallOption) (UploadClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod("Upload"), callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &uploadClientStream{stream}, nil
}

type DownloadClientStream interface {
	Recv() (*DownloadResponse, error)
}

type downloadClientStream struct{ grpc.ClientStream }

func (s *downloadClientStream) Recv() (*DownloadResponse, error) {
	m := new(DownloadResponse)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *FileServiceClient) Download(ctx context.Context, in *DownloadRequest, opts ...grpc.CallOption) (DownloadClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], FullMethod("Download"), callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	// io.EOF means the server already ended the call; Recv reports why.
	if err := stream.SendMsg(in); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &downloadClientStream{stream}, nil
}
