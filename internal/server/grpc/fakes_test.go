package grpc

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/api"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/auth"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/services"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

const (
	testSecret    = "k"
	testNamespace = "https://chunkvault/"
)

var (
	alice = auth.Identity{Subject: "auth0|alice", Email: "alice@example.com"}
	bob   = auth.Identity{Subject: "auth0|bob", Email: "bob@example.com"}
)

// ---- fakes ----

type fakeUploads struct {
	mu       sync.Mutex
	body     []byte
	input    services.UploadInput
	done     chan struct{}
	err      error // returned by Upload
	runErr   error // returned by Wait
	statusOf *services.UploadStatus
}

func (f *fakeUploads) Upload(ctx context.Context, in services.UploadInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	f.input = in
	f.done = make(chan struct{})
	f.mu.Unlock()

	go func() {
		b, _ := io.ReadAll(in.Body)
		f.mu.Lock()
		f.body = b
		close(f.done)
		f.mu.Unlock()
	}()
	return "file-1", nil
}

func (f *fakeUploads) Wait(ctx context.Context, fileID string) (*models.File, error) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	<-done
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &models.File{ID: fileID, Status: models.FileCompleted}, nil
}

func (f *fakeUploads) Status(ctx context.Context, fileID string) (*services.UploadStatus, error) {
	if f.statusOf == nil {
		return nil, common.ErrNotFound
	}
	return f.statusOf, nil
}

func (f *fakeUploads) lastInput() services.UploadInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input
}

func (f *fakeUploads) received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body
}

type fakeDownloads struct {
	data []byte
	err  error
	seen auth.Identity
}

func (f *fakeDownloads) Download(ctx context.Context, fileID string, id auth.Identity) (*services.Download, error) {
	f.seen = id
	if f.err != nil {
		return nil, f.err
	}
	return &services.Download{
		File:   &models.File{ID: fileID, Filename: "a.bin", Status: models.FileCompleted},
		Size:   int64(len(f.data)),
		Reader: bytes.NewReader(f.data),
	}, nil
}

// fakeManifest overrides what a test needs; other methods panic.
type fakeManifest struct {
	manifestSvc

	files     map[string]*models.File
	deleted   *models.SyncEvent
	deleteErr error
	grants    []*models.Grant
	seen      auth.Identity
}

func (f *fakeManifest) CheckAccess(ctx context.Context, fileID string, id auth.Identity) (*models.File, models.AccessLevel, error) {
	file, ok := f.files[fileID]
	if !ok {
		return nil, models.AccessNone, common.ErrNotFound
	}
	if file.OwnerID == id.Subject {
		return file, models.AccessOwner, nil
	}
	return file, models.AccessNone, nil
}

func (f *fakeManifest) GetFile(ctx context.Context, fileID string, id auth.Identity) (*models.File, error) {
	file, level, err := f.CheckAccess(ctx, fileID, id)
	if err != nil {
		return nil, err
	}
	if level < models.AccessRead {
		return nil, common.ErrAccessDenied
	}
	return file, nil
}

func (f *fakeManifest) ListFiles(ctx context.Context, id auth.Identity) ([]*models.File, error) {
	f.seen = id
	var out []*models.File
	for _, file := range f.files {
		if file.OwnerID == id.Subject {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeManifest) DeleteFile(ctx context.Context, fileID string, id auth.Identity) (*models.SyncEvent, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return f.deleted, nil
}

func (f *fakeManifest) Share(ctx context.Context, fileID string, id auth.Identity, grantee string, perm models.Permission) (*models.Grant, error) {
	if !perm.Valid() {
		return nil, common.ErrValidation
	}
	g := &models.Grant{ID: "g1", FileID: fileID, Grantee: grantee, Permission: perm}
	f.grants = append(f.grants, g)
	return g, nil
}

func (f *fakeManifest) SharedByMe(ctx context.Context, id auth.Identity) ([]services.OwnedShare, error) {
	var out []services.OwnedShare
	for _, g := range f.grants {
		file, ok := f.files[g.FileID]
		if !ok || file.OwnerID != id.Subject {
			continue
		}
		if n := len(out); n > 0 && out[n-1].File.ID == g.FileID {
			out[n-1].Grants = append(out[n-1].Grants, g)
			continue
		}
		out = append(out, services.OwnedShare{File: file, Grants: []*models.Grant{g}})
	}
	return out, nil
}

func (f *fakeManifest) UpdateFile(ctx context.Context, fileID string, id auth.Identity, upd services.FileUpdate) (*models.File, *models.SyncEvent, error) {
	if upd.Filename == "" && upd.ContentType == "" {
		return nil, nil, common.ErrValidation
	}
	file, err := f.GetFile(ctx, fileID, id)
	if err != nil {
		return nil, nil, err
	}
	if upd.Filename == file.Filename {
		return file, nil, nil
	}
	updated := *file
	updated.Filename = upd.Filename
	return &updated, &models.SyncEvent{ID: "ev-upd", FileID: fileID, Type: models.SyncUpdate, Status: models.SyncPending}, nil
}

type fakeSync struct {
	events    map[string]*models.SyncEvent
	processed []string
	procErr   error
	query     services.EventQuery
}

func (f *fakeSync) Process(ctx context.Context, id string) (*models.SyncEvent, error) {
	f.processed = append(f.processed, id)
	ev := *f.events[id]
	ev.Status = models.SyncCompleted
	ev.Outcome = models.OutcomeCompleted
	if f.procErr != nil {
		ev.Status = models.SyncFailed
		ev.Outcome = ""
		ev.Error = f.procErr.Error()
	}
	return &ev, f.procErr
}

func (f *fakeSync) GetEvent(ctx context.Context, id string) (*models.SyncEvent, error) {
	ev, ok := f.events[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return ev, nil
}

func (f *fakeSync) ListEvents(ctx context.Context, fileID string) ([]*models.SyncEvent, error) {
	var out []*models.SyncEvent
	for _, ev := range f.events {
		if ev.FileID == fileID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeSync) ListOwnerEvents(ctx context.Context, id auth.Identity, q services.EventQuery) ([]*models.SyncEvent, error) {
	f.query = q
	if q.Limit < 0 {
		return nil, common.ErrValidation
	}
	var out []*models.SyncEvent
	for _, ev := range f.events {
		if ev.OwnerID == id.Subject && (q.Status == "" || ev.Status == q.Status) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ---- helpers ----

type fixture struct {
	uploads   *fakeUploads
	downloads *fakeDownloads
	manifest  *fakeManifest
	sync      *fakeSync
	client    *api.FileServiceClient
}

func newFixture(t *testing.T, maxMsg int) *fixture {
	t.Helper()
	fx := &fixture{
		uploads:   &fakeUploads{},
		downloads: &fakeDownloads{},
		manifest:  &fakeManifest{files: map[string]*models.File{}},
		sync:      &fakeSync{events: map[string]*models.SyncEvent{}},
	}

	srv := NewGRPCServer(Options{
		SecretKey:      testSecret,
		ClaimNamespace: testNamespace,
		MaxMessageSize: maxMsg,
	}, logging.Nop{}, Services{
		Uploads:   fx.uploads,
		Downloads: fx.downloads,
		Manifest:  fx.manifest,
		Sync:      fx.sync,
	})

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case <-served:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	fx.client = api.NewFileServiceClient(conn)
	return fx
}

func tokenFor(t *testing.T, id auth.Identity, validity time.Duration) string {
	t.Helper()
	tok, err := auth.GenerateToken(id, testNamespace, []byte(testSecret), validity)
	require.NoError(t, err)
	return tok
}

func as(t *testing.T, id auth.Identity) context.Context {
	t.Helper()
	return metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, tokenFor(t, id, time.Minute))
}
