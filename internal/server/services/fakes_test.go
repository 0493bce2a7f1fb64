package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/retry"
	"github.com/dmitrijs2005/chunkvault/internal/server/auth"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/files"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/shares"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/syncevents"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/versions"
)

// -------- in-memory manifest --------

// memManifest backs every fake repository. Writes apply immediately, so
// transactions in tests only exercise the Begin/Commit/Rollback plumbing.
type memManifest struct {
	mu       sync.Mutex
	files    map[string]models.File
	chunks   map[string]map[int]models.Chunk
	versions map[string][]models.Version
	grants   map[string]models.Grant
	events   map[string]models.SyncEvent
	last     time.Time

	// fail, when set, is consulted before each call with "<repo>.<Method>".
	fail func(op string) error
	// lostAck, when set, is consulted after a write has been applied.
	lostAck func(op string) error
}

func newMemManifest() *memManifest {
	return &memManifest{
		files:    make(map[string]models.File),
		chunks:   make(map[string]map[int]models.Chunk),
		versions: make(map[string][]models.Version),
		grants:   make(map[string]models.Grant),
		events:   make(map[string]models.SyncEvent),
	}
}

func (m *memManifest) setFail(f func(op string) error) {
	m.mu.Lock()
	m.fail = f
	m.mu.Unlock()
}

// enter locks the manifest and applies fault injection.
func (m *memManifest) enter(op string) error {
	m.mu.Lock()
	if m.fail != nil {
		if err := m.fail(op); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	return nil
}

// now follows the wall clock but is strictly increasing, so orderings are
// stable.
func (m *memManifest) now() time.Time {
	t := time.Now()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

// age moves the event's last update back by d.
func (m *memManifest) age(eventID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.events[eventID]
	e.UpdatedAt = e.UpdatedAt.Add(-d)
	m.events[eventID] = e
}

func (m *memManifest) file(id string) (models.File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	return f, ok
}

func (m *memManifest) chunkList(fileID string) []models.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chunk
	for _, c := range m.chunks[fileID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *memManifest) chunkKeys(fileID string) []string {
	var keys []string
	for _, c := range m.chunkList(fileID) {
		keys = append(keys, c.Key)
	}
	return keys
}

func (m *memManifest) dropChunkRecord(fileID string, index int) {
	m.mu.Lock()
	delete(m.chunks[fileID], index)
	m.mu.Unlock()
}

func (m *memManifest) versionCount(fileID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.versions[fileID])
}

// -------- files --------

type fakeFiles struct{ m *memManifest }

var _ files.Repository = fakeFiles{}

func (r fakeFiles) Create(ctx context.Context, f *models.File) error {
	if err := r.m.enter("files.Create"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	if old, ok := r.m.files[f.ID]; ok {
		if old.OwnerID != f.OwnerID || old.Status != models.FileUploading {
			return common.ErrValidation
		}
		f.CreatedAt, f.UpdatedAt = old.CreatedAt, old.UpdatedAt
		return nil
	}
	f.CreatedAt = r.m.now()
	f.UpdatedAt = f.CreatedAt
	r.m.files[f.ID] = *f
	if r.m.lostAck != nil {
		return r.m.lostAck("files.Create")
	}
	return nil
}

func (r fakeFiles) Get(ctx context.Context, id string) (*models.File, error) {
	if err := r.m.enter("files.Get"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	f, ok := r.m.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, common.ErrNotFound)
	}
	return &f, nil
}

func (r fakeFiles) ListByOwner(ctx context.Context, ownerID string) ([]*models.File, error) {
	if err := r.m.enter("files.ListByOwner"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var out []*models.File
	for _, f := range r.m.files {
		if f.OwnerID == ownerID {
			f := f
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r fakeFiles) transition(op, id string, apply func(f *models.File)) error {
	if err := r.m.enter(op); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	f, ok := r.m.files[id]
	if !ok || f.Status != models.FileUploading {
		return fmt.Errorf("%s: %w", op, common.ErrNotFound)
	}
	apply(&f)
	f.UpdatedAt = r.m.now()
	r.m.files[id] = f
	return nil
}

func (r fakeFiles) MarkCompleted(ctx context.Context, id string, chunkCount int) error {
	return r.transition("files.MarkCompleted", id, func(f *models.File) {
		f.Status = models.FileCompleted
		f.ChunkCount = chunkCount
	})
}

func (r fakeFiles) MarkFailed(ctx context.Context, id string) error {
	return r.transition("files.MarkFailed", id, func(f *models.File) {
		f.Status = models.FileFailed
	})
}

func (r fakeFiles) UpdateSize(ctx context.Context, id string, size int64, checksum string) error {
	if err := r.m.enter("files.UpdateSize"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	f, ok := r.m.files[id]
	if !ok {
		return common.ErrNotFound
	}
	f.Size, f.Checksum = size, checksum
	r.m.files[id] = f
	return nil
}

func (r fakeFiles) UpdateMetadata(ctx context.Context, id, filename, contentType string) (*models.File, error) {
	if err := r.m.enter("files.UpdateMetadata"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	f, ok := r.m.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, common.ErrNotFound)
	}
	if filename != "" {
		f.Filename = filename
	}
	if contentType != "" {
		f.ContentType = contentType
	}
	f.UpdatedAt = r.m.now()
	r.m.files[id] = f
	return &f, nil
}

func (r fakeFiles) Delete(ctx context.Context, id string) error {
	if err := r.m.enter("files.Delete"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	if _, ok := r.m.files[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.m.files, id)
	delete(r.m.chunks, id)
	delete(r.m.versions, id)
	for k, g := range r.m.grants {
		if g.FileID == id {
			delete(r.m.grants, k)
		}
	}
	return nil
}

// -------- chunks --------

type fakeChunks struct{ m *memManifest }

var _ chunks.Repository = fakeChunks{}

func (r fakeChunks) Create(ctx context.Context, c *models.Chunk) error {
	if err := r.m.enter("chunks.Create"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	if r.m.chunks[c.FileID] == nil {
		r.m.chunks[c.FileID] = make(map[int]models.Chunk)
	}
	c.CreatedAt = r.m.now()
	r.m.chunks[c.FileID][c.Index] = *c
	return nil
}

func (r fakeChunks) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	if err := r.m.enter("chunks.ListByFile"); err != nil {
		return nil, err
	}
	var out []*models.Chunk
	for _, c := range r.m.chunks[fileID] {
		c := c
		out = append(out, &c)
	}
	r.m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (r fakeChunks) Count(ctx context.Context, fileID string) (int, error) {
	if err := r.m.enter("chunks.Count"); err != nil {
		return 0, err
	}
	defer r.m.mu.Unlock()
	return len(r.m.chunks[fileID]), nil
}

func (r fakeChunks) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	if err := r.m.enter("chunks.DeleteByFile"); err != nil {
		return 0, err
	}
	defer r.m.mu.Unlock()
	n := len(r.m.chunks[fileID])
	delete(r.m.chunks, fileID)
	return int64(n), nil
}

// -------- versions --------

type fakeVersions struct{ m *memManifest }

var _ versions.Repository = fakeVersions{}

func (r fakeVersions) Create(ctx context.Context, v *models.Version) error {
	if err := r.m.enter("versions.Create"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	list := r.m.versions[v.FileID]
	v.Number = len(list) + 1
	v.CreatedAt = r.m.now()
	r.m.versions[v.FileID] = append(list, *v)
	return nil
}

func (r fakeVersions) ListByFile(ctx context.Context, fileID string) ([]*models.Version, error) {
	if err := r.m.enter("versions.ListByFile"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var out []*models.Version
	for _, v := range r.m.versions[fileID] {
		v := v
		out = append(out, &v)
	}
	return out, nil
}

func (r fakeVersions) Latest(ctx context.Context, fileID string) (*models.Version, error) {
	if err := r.m.enter("versions.Latest"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	list := r.m.versions[fileID]
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	v := list[len(list)-1]
	return &v, nil
}

// -------- shares --------

type fakeShares struct{ m *memManifest }

var _ shares.Repository = fakeShares{}

func grantKey(fileID, grantee string) string { return fileID + "\x00" + grantee }

func (r fakeShares) Upsert(ctx context.Context, g *models.Grant) error {
	if err := r.m.enter("shares.Upsert"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	k := grantKey(g.FileID, g.Grantee)
	if old, ok := r.m.grants[k]; ok {
		g.ID, g.CreatedAt = old.ID, old.CreatedAt
	} else {
		g.CreatedAt = r.m.now()
	}
	g.UpdatedAt = r.m.now()
	r.m.grants[k] = *g
	return nil
}

func (r fakeShares) Find(ctx context.Context, fileID, subject, email string) (*models.Grant, error) {
	if err := r.m.enter("shares.Find"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var best *models.Grant
	for _, who := range []string{subject, email} {
		if who == "" {
			continue
		}
		if g, ok := r.m.grants[grantKey(fileID, who)]; ok {
			if best == nil || g.Permission == models.PermissionWrite {
				g := g
				best = &g
			}
		}
	}
	if best == nil {
		return nil, common.ErrNotFound
	}
	return best, nil
}

func (r fakeShares) ListByFile(ctx context.Context, fileID string) ([]*models.Grant, error) {
	if err := r.m.enter("shares.ListByFile"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var out []*models.Grant
	for _, g := range r.m.grants {
		if g.FileID == fileID {
			g := g
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r fakeShares) ListForGrantee(ctx context.Context, subject, email string) ([]*models.Grant, error) {
	if err := r.m.enter("shares.ListForGrantee"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var out []*models.Grant
	for _, g := range r.m.grants {
		if g.Grantee == subject || (email != "" && g.Grantee == email) {
			g := g
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r fakeShares) ListByOwner(ctx context.Context, ownerID string) ([]*models.Grant, error) {
	if err := r.m.enter("shares.ListByOwner"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var out []*models.Grant
	for _, g := range r.m.grants {
		if g.OwnerID == ownerID {
			g := g
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r fakeShares) Delete(ctx context.Context, fileID, grantee string) error {
	if err := r.m.enter("shares.Delete"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	k := grantKey(fileID, grantee)
	if _, ok := r.m.grants[k]; !ok {
		return common.ErrNotFound
	}
	delete(r.m.grants, k)
	return nil
}

// -------- sync events --------

type fakeEvents struct{ m *memManifest }

var _ syncevents.Repository = fakeEvents{}

func (r fakeEvents) Create(ctx context.Context, e *models.SyncEvent) error {
	if err := r.m.enter("syncevents.Create"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	if f, ok := r.m.files[e.FileID]; ok && e.OwnerID == "" {
		e.OwnerID = f.OwnerID
	}
	e.CreatedAt = r.m.now()
	e.UpdatedAt = e.CreatedAt
	r.m.events[e.ID] = *e
	return nil
}

func (r fakeEvents) Get(ctx context.Context, id string) (*models.SyncEvent, error) {
	if err := r.m.enter("syncevents.Get"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	e, ok := r.m.events[id]
	if !ok {
		return nil, fmt.Errorf("sync event %s: %w", id, common.ErrNotFound)
	}
	return &e, nil
}

func (r fakeEvents) Transition(ctx context.Context, id string, from, to models.SyncStatus, c syncevents.Change) error {
	if !from.CanTransition(to) {
		return common.ErrValidation
	}
	if err := r.m.enter("syncevents.Transition"); err != nil {
		return err
	}
	defer r.m.mu.Unlock()
	e, ok := r.m.events[id]
	if !ok || e.Status != from {
		return syncevents.ErrStaleStatus
	}
	e.Status = to
	if c.Outcome != "" {
		e.Outcome = c.Outcome
	}
	if c.Result != nil {
		e.Result = c.Result
	}
	e.Error = c.Error
	e.UpdatedAt = r.m.now()
	r.m.events[id] = e
	return nil
}

func (r fakeEvents) ListByFile(ctx context.Context, fileID string) ([]*models.SyncEvent, error) {
	if err := r.m.enter("syncevents.ListByFile"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var out []*models.SyncEvent
	for _, e := range r.m.events {
		if e.FileID == fileID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r fakeEvents) ListByOwner(ctx context.Context, ownerID string, status models.SyncStatus, limit, offset int) ([]*models.SyncEvent, error) {
	if err := r.m.enter("syncevents.ListByOwner"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var out []*models.SyncEvent
	for _, e := range r.m.events {
		if e.OwnerID == ownerID && (status == "" || e.Status == status) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeEvents) ListRecheckCandidates(ctx context.Context, maxAttempts, limit int) ([]*models.SyncEvent, error) {
	if err := r.m.enter("syncevents.ListRecheckCandidates"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	latest := make(map[string]models.SyncEvent)
	for _, e := range r.m.events {
		if e.Type != models.SyncUpload {
			continue
		}
		if cur, ok := latest[e.FileID]; !ok || e.CreatedAt.After(cur.CreatedAt) {
			latest[e.FileID] = e
		}
	}
	var out []*models.SyncEvent
	for _, e := range latest {
		if _, ok := r.m.files[e.FileID]; !ok {
			continue
		}
		if e.Status != models.SyncCompleted || e.Attempt >= maxAttempts {
			continue
		}
		if e.Outcome != models.OutcomePending && e.Outcome != models.OutcomeIncomplete {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeEvents) ListStalled(ctx context.Context, pendingBefore, processingBefore time.Time, limit int) ([]*models.SyncEvent, error) {
	if err := r.m.enter("syncevents.ListStalled"); err != nil {
		return nil, err
	}
	defer r.m.mu.Unlock()
	var out []*models.SyncEvent
	for _, e := range r.m.events {
		stalled := (e.Status == models.SyncPending && e.UpdatedAt.Before(pendingBefore)) ||
			(e.Status == models.SyncProcessing && e.UpdatedAt.Before(processingBefore))
		if stalled {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -------- repo manager --------

type fakeRepoManager struct {
	repomanager.RepositoryManager
	m *memManifest
}

func (f *fakeRepoManager) Files(dbx.DBTX) files.Repository           { return fakeFiles{f.m} }
func (f *fakeRepoManager) Chunks(dbx.DBTX) chunks.Repository         { return fakeChunks{f.m} }
func (f *fakeRepoManager) Versions(dbx.DBTX) versions.Repository     { return fakeVersions{f.m} }
func (f *fakeRepoManager) Shares(dbx.DBTX) shares.Repository         { return fakeShares{f.m} }
func (f *fakeRepoManager) SyncEvents(dbx.DBTX) syncevents.Repository { return fakeEvents{f.m} }

// -------- sink --------

type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) Notify(ctx context.Context, fileID string, md map[string]string) error {
	s.mu.Lock()
	s.calls = append(s.calls, fileID)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) notified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// -------- harness --------

var (
	alice = auth.Identity{Subject: "auth0|alice", Email: "alice@example.com", Name: "Alice"}
	bob   = auth.Identity{Subject: "auth0|bob", Email: "bob@example.com"}
	carol = auth.Identity{Subject: "auth0|carol", Email: "carol@example.com"}
)

type harness struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	mf       *memManifest
	store    *chunkstore.Memory
	sink     *recordingSink
	opts     Options
	sync     *SyncProcessor
	manifest *ManifestService
	upload   *UploadService
	download *DownloadService
}

func testOptions() Options {
	o := DefaultOptions()
	o.ChunkSize = 8
	o.Retry = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	o.VerifyTimeout = time.Second
	o.TransferTimeout = time.Second
	o.ManifestTimeout = time.Second
	o.SyncWorkers = 1
	o.SyncQueueSize = 64
	o.RecheckInterval = 0
	o.RecheckMaxAttempts = 3
	o.NotifyTimeout = time.Second
	return o
}

func newHarness(t *testing.T, tweak func(o *Options)) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)

	opts := testOptions()
	if tweak != nil {
		tweak(&opts)
	}

	h := &harness{
		db:    db,
		mock:  mock,
		mf:    newMemManifest(),
		store: chunkstore.NewMemory(),
		sink:  &recordingSink{},
		opts:  opts,
	}
	rm := &fakeRepoManager{m: h.mf}
	log := logging.Nop{}

	h.sync = NewSyncProcessor(db, rm, h.store, opts, log, nil)
	h.manifest = NewManifestService(db, rm, h.sync, opts, log)
	h.upload = NewUploadService(db, rm, h.store, h.sync, h.sink, opts, log, nil)
	h.download = NewDownloadService(h.manifest, h.store, opts, log, nil)
	return h
}

// expectTx registers n transactions that commit.
func (h *harness) expectTx(n int) {
	for i := 0; i < n; i++ {
		h.mock.ExpectBegin()
		h.mock.ExpectCommit()
	}
}

func (h *harness) uploadBytes(t *testing.T, owner auth.Identity, name string, data []byte) *models.File {
	t.Helper()
	h.expectTx(1)
	f, err := h.upload.UploadAndWait(context.Background(), UploadInput{
		Filename: name,
		Size:     int64(len(data)),
		Owner:    owner,
		Body:     bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return f
}

func (h *harness) latestEvent(t *testing.T, fileID string, typ models.SyncEventType) *models.SyncEvent {
	t.Helper()
	list, err := h.sync.ListEvents(context.Background(), fileID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	for _, e := range list {
		if e.Type == typ {
			return e
		}
	}
	t.Fatalf("no %s event for %s", typ, fileID)
	return nil
}
