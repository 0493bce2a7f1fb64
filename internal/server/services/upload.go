package services

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/auth"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunker"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/server/metrics"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/notify"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkvault/internal/server/saga"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// opRetention is how long the outcome of a finished upload stays queryable
// in memory.
const opRetention = 10 * time.Minute

type UploadInput struct {
	Filename    string
	ContentType string
	// Size is the declared length of Body; zero when unknown.
	Size  int64
	Owner auth.Identity
	Body  io.Reader
}

// UploadStatus is the observable state of an upload.
type UploadStatus struct {
	File *models.File
	// Err is the failure reason, known while the outcome is retained.
	Err error
}

type uploadOp struct {
	done chan struct{}
	err  error
}

// uploadRun is the state shared by the steps of one upload saga.
type uploadRun struct {
	file  *models.File
	body  io.Reader
	limit int

	mu    sync.Mutex
	keys  []string
	count int
	total int64
	sum   string
}

func (r *uploadRun) track(key string) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
}

func (r *uploadRun) trackedKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

type submitter interface {
	Submit(ctx context.Context, fileID string, t models.SyncEventType, payload json.RawMessage) (*models.SyncEvent, error)
}

// UploadService is the upload orchestrator. Upload returns as soon as the
// File record exists; chunking, storing and finalizing continue in a
// tracked background task.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	chunks      *chunkIO
	sync        submitter
	sink        notify.Sink
	opts        Options
	logger      logging.Logger
	metrics     *metrics.Metrics

	mu  sync.Mutex
	ops map[string]*uploadOp
	wg  sync.WaitGroup
}

func NewUploadService(db *sql.DB, rm repomanager.RepositoryManager, store chunkstore.Store, sp submitter, sink notify.Sink,
	opts Options, l logging.Logger, m *metrics.Metrics) *UploadService {
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &UploadService{
		db:          db,
		repomanager: rm,
		chunks:      newChunkIO(store, opts, m),
		sync:        sp,
		sink:        sink,
		opts:        opts,
		logger:      l.With("module", "upload"),
		metrics:     m,
		ops:         make(map[string]*uploadOp),
	}
}

// Upload validates the input, creates the File in uploading status and
// starts the background upload. The caller's cancellation does not stop the
// background work once the file id has been returned.
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (string, error) {
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return "", fmt.Errorf("%w: filename is required", common.ErrValidation)
	}
	if in.Owner.IsZero() {
		return "", common.ErrUnauthenticated
	}
	if in.Body == nil || in.Size < 0 {
		return "", fmt.Errorf("%w: invalid body", common.ErrValidation)
	}

	body := bufio.NewReader(in.Body)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: empty upload", common.ErrValidation)
		}
		return "", fmt.Errorf("read upload: %w", err)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = common.DefaultContentType
	}

	f := &models.File{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentType: contentType,
		OwnerID:     in.Owner.Subject,
		OwnerEmail:  in.Owner.Email,
		Status:      models.FileUploading,
	}
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		return s.repomanager.Files(s.db).Create(ctx, f)
	})
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	op := &uploadOp{done: make(chan struct{})}
	s.mu.Lock()
	s.ops[f.ID] = op
	s.mu.Unlock()

	run := &uploadRun{
		file:  f,
		body:  body,
		limit: s.opts.Concurrency.Limit(chunker.ExpectedCount(in.Size, s.opts.ChunkSize)),
	}

	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), run, in.Size, op)

	s.logger.Info(ctx, "upload started", "file_id", f.ID, "filename", filename, "owner", f.OwnerID)
	return f.ID, nil
}

// UploadAndWait uploads and blocks until the outcome is known.
func (s *UploadService) UploadAndWait(ctx context.Context, in UploadInput) (*models.File, error) {
	id, err := s.Upload(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, id)
}

// Wait blocks until the upload of fileID finishes and returns the final File
// or the failure reason.
func (s *UploadService) Wait(ctx context.Context, fileID string) (*models.File, error) {
	s.mu.Lock()
	op := s.ops[fileID]
	s.mu.Unlock()

	if op != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-op.done:
		}
		if op.err != nil {
			return nil, op.err
		}
	}

	var f *models.File
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.repomanager.Files(s.db).Get(ctx, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}
	switch f.Status {
	case models.FileCompleted:
		return f, nil
	case models.FileFailed:
		return nil, fmt.Errorf("upload of %s failed", fileID)
	default:
		return nil, fmt.Errorf("upload of %s is not tracked by this server: %w", fileID, common.ErrIncomplete)
	}
}

// Status reports the stored File and, while retained, the failure reason.
func (s *UploadService) Status(ctx context.Context, fileID string) (*UploadStatus, error) {
	var f *models.File
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.repomanager.Files(s.db).Get(ctx, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}

	st := &UploadStatus{File: f}
	s.mu.Lock()
	if op := s.ops[fileID]; op != nil {
		select {
		case <-op.done:
			st.Err = op.err
		default:
		}
	}
	s.mu.Unlock()
	return st, nil
}

// Drain waits for in-flight uploads to finish or ctx to end.
func (s *UploadService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *UploadService) run(ctx context.Context, run *uploadRun, declared int64, op *uploadOp) {
	defer s.wg.Done()

	log := s.logger.With("file_id", run.file.ID)
	started := time.Now()

	err := saga.New("upload", log).
		Add(saga.Step{
			Name:       "store chunks",
			Action:     func(ctx context.Context) error { return s.storeChunks(ctx, run, declared) },
			Compensate: func(ctx context.Context) error { return s.discard(ctx, run, log) },
		}).
		Add(saga.Step{
			Name:   "finalize",
			Action: func(ctx context.Context) error { return s.finalize(ctx, run) },
		}).
		Run(ctx)

	if err != nil {
		log.Error(ctx, "upload failed", "error", err)
	} else {
		s.afterUpload(ctx, run, log)
		log.Info(ctx, "upload completed", "chunks", run.count, "size", run.total, "took", time.Since(started))
	}
	s.metrics.Upload(err)

	op.err = err
	close(op.done)
	time.AfterFunc(opRetention, func() {
		s.mu.Lock()
		delete(s.ops, run.file.ID)
		s.mu.Unlock()
	})
}

// storeChunks reads the body sequentially and stores chunks concurrently.
// At most run.limit chunks are held in memory.
func (s *UploadService) storeChunks(ctx context.Context, run *uploadRun, declared int64) error {
	ch, err := chunker.New(run.body, s.opts.ChunkSize)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(run.limit)

	var readErr error
	for gctx.Err() == nil {
		c, err := ch.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = fmt.Errorf("read upload: %w", err)
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return s.storeChunk(gctx, run, c)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if declared > 0 && ch.Total() != declared {
		return fmt.Errorf("%w: declared size %d, received %d bytes", common.ErrValidation, declared, ch.Total())
	}
	run.count, run.total, run.sum = ch.Count(), ch.Total(), ch.Sum()
	return nil
}

func (s *UploadService) storeChunk(ctx context.Context, run *uploadRun, c chunker.Chunk) error {
	f := run.file
	key := chunker.ChunkID(f.OwnerID, f.ID, c.Index, c.Hash)
	run.track(key)

	if err := s.chunks.put(ctx, key, c.Data, f.ContentType); err != nil {
		return &common.ChunkError{Index: c.Index, Key: key, Err: err}
	}

	rec := &models.Chunk{FileID: f.ID, Index: c.Index, Key: key, Size: int64(len(c.Data)), Hash: c.Hash}
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		return s.repomanager.Chunks(s.db).Create(ctx, rec)
	})
	if err != nil {
		return &common.ChunkError{Index: c.Index, Key: key, Err: fmt.Errorf("record chunk: %w", err)}
	}
	return nil
}

// discard undoes a failed upload: every chunk that may have been written is
// targeted for deletion, the chunk records are removed and the file is marked
// failed. Individual failures are logged and do not stop the cleanup.
func (s *UploadService) discard(ctx context.Context, run *uploadRun, log logging.Logger) error {
	keys := run.trackedKeys()
	_ = fanOut(ctx, len(keys), s.opts.Concurrency.Limit(len(keys)), func(ctx context.Context, i int) error {
		if err := s.chunks.delete(ctx, keys[i]); err != nil {
			log.Warn(ctx, "orphaned chunk", "key", keys[i], "error", err)
		}
		return nil
	})

	var errs []error
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		_, err := s.repomanager.Chunks(s.db).DeleteByFile(ctx, run.file.ID)
		return err
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("delete chunk records: %w", err))
	}
	err = s.opts.manifest(ctx, func(ctx context.Context) error {
		return s.repomanager.Files(s.db).MarkFailed(ctx, run.file.ID)
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("mark failed: %w", err))
	}
	return errors.Join(errs...)
}

// finalize marks the file completed and creates its first version in one
// transaction.
func (s *UploadService) finalize(ctx context.Context, run *uploadRun) error {
	return s.opts.manifest(ctx, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := s.repomanager.Files(tx).MarkCompleted(ctx, run.file.ID, run.count); err != nil {
				return err
			}
			v := &models.Version{FileID: run.file.ID, Label: "upload", CreatedBy: run.file.OwnerID}
			return s.repomanager.Versions(tx).Create(ctx, v)
		})
	})
}

// afterUpload runs the non-critical tail of a successful upload. Failures
// are logged only.
func (s *UploadService) afterUpload(ctx context.Context, run *uploadRun, log logging.Logger) {
	f := run.file
	err := s.opts.manifest(ctx, func(ctx context.Context) error {
		return s.repomanager.Files(s.db).UpdateSize(ctx, f.ID, run.total, run.sum)
	})
	if err != nil {
		log.Warn(ctx, "size update failed", "error", err)
	}

	if s.sync != nil {
		if _, err := s.sync.Submit(ctx, f.ID, models.SyncUpload, nil); err != nil {
			log.Warn(ctx, "sync event not emitted", "error", err)
		}
	}

	notify.Dispatch(ctx, s.sink, log, f.ID, map[string]string{
		"filename":     f.Filename,
		"content_type": f.ContentType,
		"owner_id":     f.OwnerID,
	}, s.opts.NotifyTimeout)
}
