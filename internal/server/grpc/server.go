package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/chunkvault/internal/api"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/auth"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/services"
	"google.golang.org/grpc"
)

type uploadSvc interface {
	Upload(ctx context.Context, in services.UploadInput) (string, error)
	Wait(ctx context.Context, fileID string) (*models.File, error)
	Status(ctx context.Context, fileID string) (*services.UploadStatus, error)
}

type downloadSvc interface {
	Download(ctx context.Context, fileID string, id auth.Identity) (*services.Download, error)
}

type manifestSvc interface {
	CheckAccess(ctx context.Context, fileID string, id auth.Identity) (*models.File, models.AccessLevel, error)
	GetFile(ctx context.Context, fileID string, id auth.Identity) (*models.File, error)
	ListFiles(ctx context.Context, id auth.Identity) ([]*models.File, error)
	DeleteFile(ctx context.Context, fileID string, id auth.Identity) (*models.SyncEvent, error)
	Share(ctx context.Context, fileID string, id auth.Identity, grantee string, perm models.Permission) (*models.Grant, error)
	Revoke(ctx context.Context, fileID string, id auth.Identity, grantee string) error
	ListShares(ctx context.Context, fileID string, id auth.Identity) ([]*models.Grant, error)
	SharedWithMe(ctx context.Context, id auth.Identity) ([]services.SharedFile, error)
	SharedByMe(ctx context.Context, id auth.Identity) ([]services.OwnedShare, error)
	UpdateFile(ctx context.Context, fileID string, id auth.Identity, upd services.FileUpdate) (*models.File, *models.SyncEvent, error)
	CreateVersion(ctx context.Context, fileID string, id auth.Identity, label string) (*models.Version, error)
	ListVersions(ctx context.Context, fileID string, id auth.Identity) ([]*models.Version, error)
}

type syncSvc interface {
	Process(ctx context.Context, id string) (*models.SyncEvent, error)
	GetEvent(ctx context.Context, id string) (*models.SyncEvent, error)
	ListEvents(ctx context.Context, fileID string) ([]*models.SyncEvent, error)
	ListOwnerEvents(ctx context.Context, id auth.Identity, q services.EventQuery) ([]*models.SyncEvent, error)
}

// Services are the orchestrators the server exposes.
type Services struct {
	Uploads   uploadSvc
	Downloads downloadSvc
	Manifest  manifestSvc
	Sync      syncSvc
}

// Options configure the transport edge.
type Options struct {
	Address        string
	SecretKey      string
	ClaimNamespace string
	// MaxMessageSize bounds a single received or sent message.
	MaxMessageSize int
}

type GRPCServer struct {
	opts      Options
	uploads   uploadSvc
	downloads downloadSvc
	manifest  manifestSvc
	sync      syncSvc
	logger    logging.Logger
	jwtSecret []byte
}

var _ api.FileServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(opts Options, l logging.Logger, svc Services) *GRPCServer {
	return &GRPCServer{
		opts:      opts,
		uploads:   svc.Uploads,
		downloads: svc.Downloads,
		manifest:  svc.Manifest,
		sync:      svc.Sync,
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(opts.SecretKey),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	}
	if s.opts.MaxMessageSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.opts.MaxMessageSize), grpc.MaxSendMsgSize(s.opts.MaxMessageSize))
	}
	srv := grpc.NewServer(opts...)
	api.RegisterFileServiceServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
